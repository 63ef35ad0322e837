package ports

import (
	"context"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
)

// TransactionRepository persists normalized transactions.
type TransactionRepository interface {
	// Upsert inserts txn or updates the pending row with the same provenance.
	// Rows without provenance conflict on the heuristic key and yield ErrDuplicate.
	Upsert(ctx context.Context, txn *domain.Transaction) (inserted bool, err error)
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)
	DeleteByExternalID(ctx context.Context, sourceID, externalID string) error
	UpdateCategory(ctx context.Context, id string, category string, confidence float64) error
	ExistsMatching(ctx context.Context, amount decimal.Decimal, description string, since time.Time) (bool, error)
	ListByAccount(ctx context.Context, accountID string, start, end time.Time) ([]domain.Transaction, error)
}

// JobRepository persists jobs. Transition methods are conditional on the current state.
type JobRepository interface {
	Create(ctx context.Context, job *domain.ProcessingJob) error
	GetByID(ctx context.Context, id string) (*domain.ProcessingJob, error)
	MarkProcessing(ctx context.Context, id string, startedAt time.Time) error
	MarkCompleted(ctx context.Context, id string, output []byte, completedAt time.Time) error
	MarkFailed(ctx context.Context, id string, errDetail string, completedAt time.Time) error
	// FindActive returns the pending or processing job of jobType for sourceID, or nil, nil.
	FindActive(ctx context.Context, jobType domain.JobType, sourceID string) (*domain.ProcessingJob, error)
	ListByState(ctx context.Context, state domain.JobState, createdBefore time.Time, limit int) ([]domain.ProcessingJob, error)
}

// CursorRepository stores sync cursors. Only the sync engine uses it.
type CursorRepository interface {
	// Get returns nil, nil for an item that has never synced.
	Get(ctx context.Context, sourceID, itemID string) (*domain.SyncCursor, error)
	Save(ctx context.Context, cursor domain.SyncCursor) error
}

// SourceRepository persists data sources.
type SourceRepository interface {
	Create(ctx context.Context, source *domain.DataSource) error
	GetByID(ctx context.Context, id string) (*domain.DataSource, error)
	GetByItemID(ctx context.Context, itemID string) (*domain.DataSource, error)
	List(ctx context.Context) ([]domain.DataSource, error)
	ListActiveByKind(ctx context.Context, kind domain.SourceKind) ([]domain.DataSource, error)
	UpdateStatus(ctx context.Context, id string, status domain.SourceStatus) error
	MarkSynced(ctx context.Context, id string, syncedAt time.Time) error
}

// AlertRepository is the append-mostly watchdog log.
type AlertRepository interface {
	Append(ctx context.Context, alert *domain.WatchdogAlert) error
	ListActive(ctx context.Context) ([]domain.WatchdogAlert, error)
	Resolve(ctx context.Context, id string) error
}

// CategoryRuleStore holds category definitions in creation order.
type CategoryRuleStore interface {
	ListActive(ctx context.Context) ([]domain.CategoryRule, error)
	Upsert(ctx context.Context, rule domain.CategoryRule) error
}

// ValidationRuleStore holds validation rule definitions.
type ValidationRuleStore interface {
	ListActive(ctx context.Context) ([]domain.ValidationRule, error)
	Upsert(ctx context.Context, rule domain.ValidationRule) error
}

// WebhookLog stores inbound notifications verbatim.
type WebhookLog interface {
	Append(ctx context.Context, event *domain.WebhookEvent) error
	MarkStatus(ctx context.Context, id string, status domain.WebhookStatus, errMessage string, at time.Time) error
}

// ObjectStorage stores uploaded source files.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// JobQueue carries job ids from creators to the worker pool.
type JobQueue interface {
	Publish(ctx context.Context, jobID string) error
	Consume(ctx context.Context, handler func(context.Context, string) error) error
}

// ItemLocker serializes work on one key across goroutines or processes.
type ItemLocker interface {
	Acquire(ctx context.Context, key string) (release func(context.Context) error, err error)
}

// AlertRaiser appends watchdog alerts without failing the caller.
type AlertRaiser interface {
	Raise(ctx context.Context, alert domain.AlertInput)
}

// JobSubmitter creates follow-on jobs.
type JobSubmitter interface {
	Create(ctx context.Context, input domain.JobInput) (string, error)
}

// FullRangePage is one offset page of a historical fetch.
type FullRangePage struct {
	Records []domain.RawRecord
	// Cursor is optional; when set it seeds incremental sync.
	Cursor string
}

type IncrementalPage struct {
	Added      []domain.RawRecord
	Modified   []domain.RawRecord
	Removed    []string
	NextCursor string
	HasMore    bool
}

// SourceClient is the external aggregator contract.
type SourceClient interface {
	FetchFullRange(ctx context.Context, itemID string, start, end time.Time, offset, count int) (FullRangePage, error)
	FetchIncremental(ctx context.Context, itemID, cursor string, count int) (IncrementalPage, error)
}

// ReceiptExtractor turns a receipt image into structured fields.
// Unparseable provider output yields domain.FallbackReceipt, not an error.
type ReceiptExtractor interface {
	Extract(ctx context.Context, image domain.ReceiptImage) (domain.ExtractedReceipt, error)
}

// RecordParser reads raw records from an uploaded file.
type RecordParser interface {
	Parse(ctx context.Context, format string, body io.Reader) ([]domain.RawRecord, error)
}

// JobObserver receives job lifecycle measurements.
type JobObserver interface {
	JobStarted(jobType domain.JobType, queuedFor time.Duration)
	JobFinished(jobType domain.JobType, state domain.JobState, duration time.Duration)
}

type UploadRequest struct {
	SourceID  string
	AccountID string
	Filename  string
	MimeType  string
	Body      io.Reader
}
