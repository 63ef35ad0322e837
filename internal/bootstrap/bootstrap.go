package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/ledger-ingest/internal/config"
	"github.com/kirillkom/ledger-ingest/internal/core/domain"
	"github.com/kirillkom/ledger-ingest/internal/core/ports"
	"github.com/kirillkom/ledger-ingest/internal/core/usecase"
	"github.com/kirillkom/ledger-ingest/internal/infrastructure/aggregator"
	"github.com/kirillkom/ledger-ingest/internal/infrastructure/extraction"
	"github.com/kirillkom/ledger-ingest/internal/infrastructure/extraction/gemini"
	"github.com/kirillkom/ledger-ingest/internal/infrastructure/extraction/pdftext"
	"github.com/kirillkom/ledger-ingest/internal/infrastructure/extraction/plaintext"
	"github.com/kirillkom/ledger-ingest/internal/infrastructure/lock/local"
	"github.com/kirillkom/ledger-ingest/internal/infrastructure/lock/redislock"
	"github.com/kirillkom/ledger-ingest/internal/infrastructure/queue/memory"
	"github.com/kirillkom/ledger-ingest/internal/infrastructure/queue/nats"
	"github.com/kirillkom/ledger-ingest/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/ledger-ingest/internal/infrastructure/resilience"
	"github.com/kirillkom/ledger-ingest/internal/infrastructure/rules/yamlseed"
	"github.com/kirillkom/ledger-ingest/internal/infrastructure/spreadsheet"
	"github.com/kirillkom/ledger-ingest/internal/infrastructure/storage/gcs"
	"github.com/kirillkom/ledger-ingest/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/ledger-ingest/internal/observability/metrics"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Queue       ports.JobQueue
	Jobs        *usecase.JobOrchestrator
	Sources     *usecase.SourceUseCase
	Uploads     *usecase.UploadUseCase
	Watchdog    *usecase.Watchdog
	Webhooks    *usecase.WebhookUseCase
	Reconciler  *usecase.ReconcileUseCase
	SyncTrigger *usecase.SyncTrigger

	JobMetrics  *metrics.JobMetrics
	HTTPMetrics *metrics.HTTPServerMetrics

	closers []func()
}

// New opens every backing service, migrates the schema, seeds rules and wires
// the use cases. service names the binary in logs and metrics.
func New(ctx context.Context, cfg config.Config, service string, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg, Logger: logger}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	app.onClose(func() { _ = db.Close() })
	if err := postgres.Migrate(db); err != nil {
		app.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	if err := app.wire(ctx, db, service); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) wire(ctx context.Context, db *sql.DB, service string) error {
	cfg := a.Config

	txns := postgres.NewTransactionRepository(db)
	jobs := postgres.NewJobRepository(db)
	cursors := postgres.NewCursorRepository(db)
	sources := postgres.NewSourceRepository(db)
	alerts := postgres.NewAlertRepository(db)
	categories := postgres.NewCategoryRuleRepository(db)
	validations := postgres.NewValidationRuleRepository(db)
	webhookLog := postgres.NewWebhookRepository(db)

	rules, err := yamlseed.Load(cfg.RulesFile)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	if err := yamlseed.Seed(ctx, categories, validations, rules); err != nil {
		return fmt.Errorf("seed rules: %w", err)
	}

	storage, err := a.objectStorage(ctx)
	if err != nil {
		return err
	}
	queue, err := a.jobQueue()
	if err != nil {
		return err
	}
	locker, err := a.itemLocker(ctx)
	if err != nil {
		return err
	}
	receipts, err := a.receiptExtractor(ctx)
	if err != nil {
		return err
	}

	a.JobMetrics = metrics.NewJobMetrics(service)
	a.HTTPMetrics = metrics.NewHTTPServerMetrics(service)

	watchdog := usecase.NewWatchdog(alerts)
	watchdog.OnRaise(a.JobMetrics.AlertRaised)

	orchestrator := usecase.NewJobOrchestrator(jobs, queue, watchdog).WithObserver(a.JobMetrics)
	categorizer := usecase.NewCategorizer(categories)
	duplicates := usecase.NewDuplicateDetector(txns)
	validator := usecase.NewValidator(validations, duplicates)
	reconciler := usecase.NewReconcileUseCase(txns)

	providerExec := resilience.NewExecutor(resilience.ProviderPolicy(cfg.ProviderTimeout))
	sourceClient := aggregator.New(cfg.AggregatorURL, aggregator.Options{
		ClientID:           cfg.AggregatorClientID,
		Secret:             cfg.AggregatorSecret,
		HTTPTimeout:        cfg.ProviderTimeout,
		ResilienceExecutor: providerExec,
	})
	engine := usecase.NewSyncEngine(sources, cursors, txns, sourceClient, locker, watchdog, usecase.SyncConfig{
		HistoryWindow: time.Duration(cfg.SyncHistoryDays) * 24 * time.Hour,
		PageSize:      cfg.SyncPageSize,
		CallTimeout:   cfg.ProviderTimeout,
	}).WithFollowUps(orchestrator).WithObserver(a.JobMetrics.RecordSync)

	orchestrator.Register(domain.JobImport, usecase.NewImportHandler(categorizer, duplicates, txns, storage, spreadsheet.NewParser(), watchdog))
	orchestrator.Register(domain.JobCategorize, usecase.NewCategorizeHandler(categorizer, txns, locker))
	orchestrator.Register(domain.JobValidate, usecase.NewValidateHandler(validator))
	orchestrator.Register(domain.JobReconcile, usecase.NewReconcileHandler(reconciler))
	orchestrator.Register(domain.JobSync, usecase.NewSyncHandler(engine))
	orchestrator.Register(domain.JobReceipt, usecase.NewReceiptHandler(storage, receipts, categorizer, txns, watchdog))

	trigger := usecase.NewSyncTrigger(sources, jobs, orchestrator)

	a.Queue = queue
	a.Jobs = orchestrator
	a.Sources = usecase.NewSourceUseCase(sources)
	a.Uploads = usecase.NewUploadUseCase(storage, orchestrator)
	a.Watchdog = watchdog
	a.Webhooks = usecase.NewWebhookUseCase(webhookLog, sources, trigger, watchdog, cfg.WebhookSecret)
	a.Reconciler = reconciler
	a.SyncTrigger = trigger
	return nil
}

func (a *App) objectStorage(ctx context.Context) (ports.ObjectStorage, error) {
	switch a.Config.StorageBackend {
	case "gcs":
		storage, err := gcs.New(ctx, a.Config.GCSBucket, a.Config.GCSPrefix)
		if err != nil {
			return nil, fmt.Errorf("init gcs storage: %w", err)
		}
		a.onClose(func() { _ = storage.Close() })
		return storage, nil
	case "localfs", "":
		storage, err := localfs.New(a.Config.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("init object storage: %w", err)
		}
		return storage, nil
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", a.Config.StorageBackend)
	}
}

func (a *App) jobQueue() (ports.JobQueue, error) {
	switch a.Config.QueueBackend {
	case "memory":
		return memory.New(a.Config.WorkerBuffer, a.Config.WorkerConcurrency, a.Logger), nil
	case "nats", "":
		queue, err := nats.New(a.Config.NATSURL, a.Config.NATSSubject, nats.Options{
			Workers:            a.Config.WorkerConcurrency,
			Buffer:             a.Config.WorkerBuffer,
			ResilienceExecutor: resilience.NewExecutor(resilience.QueuePolicy()),
			Logger:             a.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init job queue: %w", err)
		}
		a.onClose(queue.Close)
		return queue, nil
	default:
		return nil, fmt.Errorf("unknown QUEUE_BACKEND %q", a.Config.QueueBackend)
	}
}

// itemLocker uses redis when REDIS_ADDR is set; in-process locks only
// serialize syncs within one binary.
func (a *App) itemLocker(ctx context.Context) (ports.ItemLocker, error) {
	if a.Config.RedisAddr == "" {
		return local.New(a.Config.LockWait), nil
	}
	client, err := redislock.NewClient(ctx, a.Config.RedisAddr)
	if err != nil {
		return nil, fmt.Errorf("init redis lock: %w", err)
	}
	a.onClose(func() { _ = client.Close() })
	return redislock.New(client, redislock.Options{TTL: a.Config.LockTTL, Wait: a.Config.LockWait}), nil
}

func (a *App) receiptExtractor(ctx context.Context) (ports.ReceiptExtractor, error) {
	var images ports.ReceiptExtractor
	switch {
	case a.Config.ExtractionBackend == "gemini" && a.Config.GeminiAPIKey != "":
		client, err := gemini.New(ctx, gemini.Options{
			APIKey:             a.Config.GeminiAPIKey,
			Model:              a.Config.GeminiModel,
			ResilienceExecutor: resilience.NewExecutor(resilience.ProviderPolicy(a.Config.ProviderTimeout)),
		})
		if err != nil {
			return nil, fmt.Errorf("init gemini extractor: %w", err)
		}
		images = client
	case a.Config.ExtractionBackend == "gemini":
		a.Logger.Warn("receipt_images_disabled", "reason", "GEMINI_API_KEY is empty")
	}
	return extraction.NewRouter(images, pdftext.New(), plaintext.NewExtractor()), nil
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
