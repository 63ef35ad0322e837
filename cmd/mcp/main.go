package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	mcpadapter "github.com/kirillkom/ledger-ingest/internal/adapters/mcp"
	"github.com/kirillkom/ledger-ingest/internal/bootstrap"
	"github.com/kirillkom/ledger-ingest/internal/config"
	"github.com/kirillkom/ledger-ingest/internal/observability/logging"
)

const version = "1.0.0"

func main() {
	cfg := config.Load()
	// stdout carries the protocol; logs go to stderr.
	logger := logging.NewJSONLoggerTo(os.Stderr, "mcp", cfg.LogLevel)
	slog.SetDefault(logger)

	app, err := bootstrap.New(context.Background(), cfg, "mcp", logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	server := mcpadapter.New(app.Jobs, app.Watchdog, app.Reconciler)
	if err := server.ServeStdio(version); err != nil {
		logger.Error("mcp_server_error", "error", err)
	}
}
