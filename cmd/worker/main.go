package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/ledger-ingest/internal/bootstrap"
	"github.com/kirillkom/ledger-ingest/internal/config"
	"github.com/kirillkom/ledger-ingest/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("worker", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend == "memory" {
		log.Fatalf("worker needs a shared queue; QUEUE_BACKEND=memory runs jobs inside the api process")
	}

	app, err := bootstrap.New(ctx, cfg, "worker", logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           app.JobMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("worker_metrics_listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_error", "error", err)
		}
	}()

	if cfg.SchedulerEnabled {
		sched, err := app.NewScheduler()
		if err != nil {
			logger.Warn("scheduler_disabled", "error", err)
		} else {
			go func() {
				logger.Info("scheduler_started", "schedule", cfg.SyncSchedule)
				if err := sched.Run(ctx); err != nil {
					logger.Error("scheduler_stopped", "error", err)
				}
			}()
		}
	}

	logger.Info("worker_consuming", "subject", cfg.NATSSubject, "concurrency", cfg.WorkerConcurrency)
	if err := app.RunWorker(ctx); err != nil {
		logger.Error("worker_consume_error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
}
