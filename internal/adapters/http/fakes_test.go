package httpadapter

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/ledger-ingest/internal/config"
	"github.com/kirillkom/ledger-ingest/internal/core/domain"
	"github.com/kirillkom/ledger-ingest/internal/core/ports"
)

type fakeJobs struct {
	created  []domain.JobInput
	createFn func(domain.JobInput) (string, error)
	getErr   error
	retryErr error
}

func (f *fakeJobs) Create(_ context.Context, input domain.JobInput) (string, error) {
	f.created = append(f.created, input)
	if f.createFn != nil {
		return f.createFn(input)
	}
	return "job-1", nil
}

func (f *fakeJobs) CreateRetry(_ context.Context, failedJobID string) (string, error) {
	if f.retryErr != nil {
		return "", f.retryErr
	}
	return "retry-of-" + failedJobID, nil
}

func (f *fakeJobs) Get(_ context.Context, jobID string) (*domain.ProcessingJob, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &domain.ProcessingJob{ID: jobID, Type: domain.JobImport, State: domain.JobCompleted, CreatedAt: time.Now().UTC()}, nil
}

type fakeSources struct {
	registered []string
}

func (f *fakeSources) Register(_ context.Context, name string, kind domain.SourceKind, itemID string) (*domain.DataSource, error) {
	f.registered = append(f.registered, name)
	return &domain.DataSource{ID: "src-1", Name: name, Kind: kind, ItemID: itemID, Status: domain.SourceActive}, nil
}

func (f *fakeSources) Get(_ context.Context, id string) (*domain.DataSource, error) {
	if id == "missing" {
		return nil, domain.WrapError(domain.ErrNotFound, "get source", errors.New("id=missing"))
	}
	return &domain.DataSource{ID: id, Name: "checking", Kind: domain.SourceManual, Status: domain.SourceActive}, nil
}

func (f *fakeSources) List(context.Context) ([]domain.DataSource, error) {
	return nil, nil
}

func (f *fakeSources) Deactivate(context.Context, string) error {
	return nil
}

type fakeUploads struct {
	last ports.UploadRequest
	body string
}

func (f *fakeUploads) UploadImport(_ context.Context, req ports.UploadRequest) (string, error) {
	return f.capture(req)
}

func (f *fakeUploads) UploadReceipt(_ context.Context, req ports.UploadRequest) (string, error) {
	return f.capture(req)
}

func (f *fakeUploads) capture(req ports.UploadRequest) (string, error) {
	raw, err := io.ReadAll(req.Body)
	if err != nil {
		return "", err
	}
	f.last = req
	f.body = string(raw)
	return "upload-job", nil
}

type fakeAlerts struct {
	resolveErr error
}

func (f *fakeAlerts) ListActive(context.Context) ([]domain.WatchdogAlert, error) {
	return []domain.WatchdogAlert{{ID: "a-1", Type: domain.AlertJobFailed, Severity: domain.SeverityHigh, Title: "job failed"}}, nil
}

func (f *fakeAlerts) Resolve(context.Context, string) error {
	return f.resolveErr
}

type fakeWebhooks struct {
	received []domain.WebhookEvent
	err      error
}

func (f *fakeWebhooks) Receive(_ context.Context, event domain.WebhookEvent) (domain.WebhookResult, error) {
	f.received = append(f.received, event)
	if f.err != nil {
		return domain.WebhookResult{}, f.err
	}
	return domain.WebhookResult{EventID: "evt-1", Handled: true, JobID: "sync-job"}, nil
}

type fakeReconciler struct{}

func (fakeReconciler) Reconcile(_ context.Context, accountID string, period domain.Period) (domain.Reconciliation, error) {
	return domain.Reconciliation{
		AccountID: accountID,
		Period:    period,
		Income:    decimal.RequireFromString("1000"),
		Expenses:  decimal.RequireFromString("500"),
		NetFlow:   decimal.RequireFromString("500"),
		Count:     3,
	}, nil
}

type testServices struct {
	jobs     *fakeJobs
	sources  *fakeSources
	uploads  *fakeUploads
	alerts   *fakeAlerts
	webhooks *fakeWebhooks
}

func newTestServices() *testServices {
	return &testServices{
		jobs:     &fakeJobs{},
		sources:  &fakeSources{},
		uploads:  &fakeUploads{},
		alerts:   &fakeAlerts{},
		webhooks: &fakeWebhooks{},
	}
}

func (s *testServices) handler(cfg config.Config) http.Handler {
	rt, err := NewRouter(cfg, Services{
		Jobs:       s.jobs,
		Sources:    s.sources,
		Uploads:    s.uploads,
		Alerts:     s.alerts,
		Webhooks:   s.webhooks,
		Reconciler: fakeReconciler{},
	})
	if err != nil {
		panic(err)
	}
	return rt.Handler()
}
