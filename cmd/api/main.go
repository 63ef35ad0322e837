package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	httpadapter "github.com/kirillkom/ledger-ingest/internal/adapters/http"
	"github.com/kirillkom/ledger-ingest/internal/bootstrap"
	"github.com/kirillkom/ledger-ingest/internal/config"
	"github.com/kirillkom/ledger-ingest/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, "api", logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	router, err := httpadapter.NewRouter(cfg, httpadapter.Services{
		Jobs:       app.Jobs,
		Sources:    app.Sources,
		Uploads:    app.Uploads,
		Alerts:     app.Watchdog,
		Webhooks:   app.Webhooks,
		Reconciler: app.Reconciler,
	})
	if err != nil {
		log.Fatalf("router error: %v", err)
	}

	// The in-memory queue only reaches consumers in this process.
	workerDone := make(chan struct{})
	if cfg.QueueBackend == "memory" {
		go func() {
			defer close(workerDone)
			logger.Info("in_process_worker_started", "concurrency", cfg.WorkerConcurrency)
			if err := app.RunWorker(ctx); err != nil {
				logger.Error("in_process_worker_stopped", "error", err)
			}
		}()
	} else {
		close(workerDone)
	}

	listener, err := net.Listen("tcp", ":"+cfg.APIPort)
	if err != nil {
		log.Fatalf("api listen error: %v", err)
	}
	if cfg.APIMaxConnections > 0 {
		listener = netutil.LimitListener(listener, cfg.APIMaxConnections)
	}

	server := &http.Server{
		Handler:           router.WithMetrics(app.HTTPMetrics).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("api_listening", "port", cfg.APIPort, "queue_backend", cfg.QueueBackend)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("api server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_error", "error", err)
	}
	<-workerDone
}
