package ports

import (
	"context"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
)

// JobService is the inbound contract for job submission and inspection.
type JobService interface {
	Create(ctx context.Context, input domain.JobInput) (string, error)
	CreateRetry(ctx context.Context, failedJobID string) (string, error)
	Get(ctx context.Context, jobID string) (*domain.ProcessingJob, error)
}

// JobDispatcher runs a queued job to a terminal state.
type JobDispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// AlertFeed is the operator-facing view of the watchdog log.
type AlertFeed interface {
	ListActive(ctx context.Context) ([]domain.WatchdogAlert, error)
	Resolve(ctx context.Context, alertID string) error
}

// WebhookReceiver accepts provider notifications.
type WebhookReceiver interface {
	Receive(ctx context.Context, event domain.WebhookEvent) (domain.WebhookResult, error)
}

// Reconciler aggregates period totals for an account.
type Reconciler interface {
	Reconcile(ctx context.Context, accountID string, period domain.Period) (domain.Reconciliation, error)
}

// SourceService registers and inspects data sources.
type SourceService interface {
	Register(ctx context.Context, name string, kind domain.SourceKind, itemID string) (*domain.DataSource, error)
	Get(ctx context.Context, id string) (*domain.DataSource, error)
	List(ctx context.Context) ([]domain.DataSource, error)
	Deactivate(ctx context.Context, id string) error
}

// UploadService stores uploaded files and creates the job that consumes them.
type UploadService interface {
	UploadImport(ctx context.Context, req UploadRequest) (string, error)
	UploadReceipt(ctx context.Context, req UploadRequest) (string, error)
}
