package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
)

type txnStoreFake struct {
	mu        sync.Mutex
	rows      map[string]domain.Transaction
	seq       int
	upserts   int
	failAfter int
	failErr   error
}

func newTxnStoreFake(seed ...domain.Transaction) *txnStoreFake {
	f := &txnStoreFake{rows: make(map[string]domain.Transaction), failAfter: -1}
	for _, txn := range seed {
		if txn.ID == "" {
			f.seq++
			txn.ID = fmt.Sprintf("seed-%d", f.seq)
		}
		f.rows[txn.ID] = txn
	}
	return f
}

func (f *txnStoreFake) Upsert(_ context.Context, txn *domain.Transaction) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failAfter >= 0 && f.upserts >= f.failAfter {
		return false, f.failErr
	}
	f.upserts++

	for id, existing := range f.rows {
		if txn.HasProvenance() && existing.SourceID == txn.SourceID && existing.ExternalID == txn.ExternalID {
			txn.ID = id
			if existing.Pending {
				existing.Amount = txn.Amount
				existing.Description = txn.Description
				existing.Date = txn.Date
				existing.Pending = txn.Pending
				f.rows[id] = existing
			}
			return false, nil
		}
		if !txn.HasProvenance() && existing.ExternalID == "" && existing.DedupeKey == txn.DedupeKey {
			return false, domain.WrapError(domain.ErrDuplicate, "upsert transaction", errors.New("heuristic key conflict"))
		}
	}

	f.seq++
	if txn.ID == "" {
		txn.ID = fmt.Sprintf("txn-%d", f.seq)
	}
	f.rows[txn.ID] = *txn
	return true, nil
}

func (f *txnStoreFake) GetByID(_ context.Context, id string) (*domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	txn, ok := f.rows[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get transaction", fmt.Errorf("id %s", id))
	}
	return &txn, nil
}

func (f *txnStoreFake) DeleteByExternalID(_ context.Context, sourceID, externalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, txn := range f.rows {
		if txn.SourceID == sourceID && txn.ExternalID == externalID {
			delete(f.rows, id)
		}
	}
	return nil
}

func (f *txnStoreFake) UpdateCategory(_ context.Context, id string, category string, confidence float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	txn, ok := f.rows[id]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "update category", fmt.Errorf("id %s", id))
	}
	txn.Category = category
	txn.CategoryConfidence = confidence
	f.rows[id] = txn
	return nil
}

func (f *txnStoreFake) ExistsMatching(_ context.Context, amount decimal.Decimal, description string, since time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, txn := range f.rows {
		if txn.Amount.Equal(amount) && txn.Description == description && !txn.Date.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (f *txnStoreFake) ListByAccount(_ context.Context, accountID string, start, end time.Time) ([]domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Transaction
	for _, txn := range f.rows {
		if txn.AccountID == accountID && !txn.Date.Before(start) && txn.Date.Before(end) {
			out = append(out, txn)
		}
	}
	return out, nil
}

func (f *txnStoreFake) byExternalID() map[string]domain.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]domain.Transaction, len(f.rows))
	for _, txn := range f.rows {
		out[txn.ExternalID] = txn
	}
	return out
}

type jobRepoFake struct {
	mu   sync.Mutex
	jobs map[string]domain.ProcessingJob

	processingCalls int
	terminalCalls   int
}

func newJobRepoFake() *jobRepoFake {
	return &jobRepoFake{jobs: make(map[string]domain.ProcessingJob)}
}

func (f *jobRepoFake) Create(_ context.Context, job *domain.ProcessingJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = *job
	return nil
}

func (f *jobRepoFake) GetByID(_ context.Context, id string) (*domain.ProcessingJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get job", fmt.Errorf("id %s", id))
	}
	return &job, nil
}

func (f *jobRepoFake) transition(id string, from, to domain.JobState, mutate func(*domain.ProcessingJob)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "transition job", fmt.Errorf("id %s", id))
	}
	if job.State != from {
		return domain.WrapError(domain.ErrInvalidTransition, "transition job", fmt.Errorf("%s -> %s", job.State, to))
	}
	job.State = to
	mutate(&job)
	f.jobs[id] = job
	return nil
}

func (f *jobRepoFake) MarkProcessing(_ context.Context, id string, startedAt time.Time) error {
	f.processingCalls++
	return f.transition(id, domain.JobPending, domain.JobProcessing, func(j *domain.ProcessingJob) {
		j.StartedAt = &startedAt
	})
}

func (f *jobRepoFake) MarkCompleted(_ context.Context, id string, output []byte, completedAt time.Time) error {
	f.terminalCalls++
	return f.transition(id, domain.JobProcessing, domain.JobCompleted, func(j *domain.ProcessingJob) {
		j.Output = output
		j.CompletedAt = &completedAt
	})
}

func (f *jobRepoFake) MarkFailed(_ context.Context, id string, errDetail string, completedAt time.Time) error {
	f.terminalCalls++
	return f.transition(id, domain.JobProcessing, domain.JobFailed, func(j *domain.ProcessingJob) {
		j.Error = errDetail
		j.CompletedAt = &completedAt
	})
}

func (f *jobRepoFake) FindActive(_ context.Context, jobType domain.JobType, sourceID string) (*domain.ProcessingJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, job := range f.jobs {
		if job.Type == jobType && job.SourceID == sourceID && !job.State.Terminal() {
			found := job
			return &found, nil
		}
	}
	return nil, nil
}

func (f *jobRepoFake) ListByState(_ context.Context, state domain.JobState, createdBefore time.Time, limit int) ([]domain.ProcessingJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ProcessingJob
	for _, job := range f.jobs {
		if job.State == state && job.CreatedAt.Before(createdBefore) {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type queueFake struct {
	mu        sync.Mutex
	published []string
	err       error
}

func (f *queueFake) Publish(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, jobID)
	return nil
}

func (f *queueFake) Consume(context.Context, func(context.Context, string) error) error {
	return nil
}

type alertSinkFake struct {
	mu     sync.Mutex
	raised []domain.AlertInput
}

func (f *alertSinkFake) Raise(_ context.Context, alert domain.AlertInput) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raised = append(f.raised, alert)
}

func (f *alertSinkFake) all() []domain.AlertInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.AlertInput, len(f.raised))
	copy(out, f.raised)
	return out
}

type submitterFake struct {
	mu     sync.Mutex
	inputs []domain.JobInput
}

func (f *submitterFake) Create(_ context.Context, input domain.JobInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, input)
	return fmt.Sprintf("job-%d", len(f.inputs)), nil
}

type sourceRepoFake struct {
	mu      sync.Mutex
	sources map[string]domain.DataSource
}

func newSourceRepoFake(sources ...domain.DataSource) *sourceRepoFake {
	f := &sourceRepoFake{sources: make(map[string]domain.DataSource)}
	for _, src := range sources {
		f.sources[src.ID] = src
	}
	return f
}

func (f *sourceRepoFake) Create(_ context.Context, source *domain.DataSource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources[source.ID] = *source
	return nil
}

func (f *sourceRepoFake) GetByID(_ context.Context, id string) (*domain.DataSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	src, ok := f.sources[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get source", fmt.Errorf("id %s", id))
	}
	return &src, nil
}

func (f *sourceRepoFake) GetByItemID(_ context.Context, itemID string) (*domain.DataSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, src := range f.sources {
		if src.ItemID == itemID {
			found := src
			return &found, nil
		}
	}
	return nil, domain.WrapError(domain.ErrNotFound, "get source by item", fmt.Errorf("item %s", itemID))
}

func (f *sourceRepoFake) List(context.Context) ([]domain.DataSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.DataSource, 0, len(f.sources))
	for _, src := range f.sources {
		out = append(out, src)
	}
	return out, nil
}

func (f *sourceRepoFake) ListActiveByKind(_ context.Context, kind domain.SourceKind) ([]domain.DataSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.DataSource
	for _, src := range f.sources {
		if src.Kind == kind && src.Status == domain.SourceActive {
			out = append(out, src)
		}
	}
	return out, nil
}

func (f *sourceRepoFake) UpdateStatus(_ context.Context, id string, status domain.SourceStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	src, ok := f.sources[id]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "update source", fmt.Errorf("id %s", id))
	}
	src.Status = status
	f.sources[id] = src
	return nil
}

func (f *sourceRepoFake) MarkSynced(_ context.Context, id string, syncedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	src := f.sources[id]
	src.LastSyncedAt = &syncedAt
	f.sources[id] = src
	return nil
}

func (f *sourceRepoFake) status(id string) domain.SourceStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sources[id].Status
}

type cursorRepoFake struct {
	mu      sync.Mutex
	cursors map[string]domain.SyncCursor
	saves   int
}

func newCursorRepoFake() *cursorRepoFake {
	return &cursorRepoFake{cursors: make(map[string]domain.SyncCursor)}
}

func (f *cursorRepoFake) Get(_ context.Context, sourceID, itemID string) (*domain.SyncCursor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cursor, ok := f.cursors[sourceID+"/"+itemID]
	if !ok {
		return nil, nil
	}
	return &cursor, nil
}

func (f *cursorRepoFake) Save(_ context.Context, cursor domain.SyncCursor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	f.cursors[cursor.SourceID+"/"+cursor.ItemID] = cursor
	return nil
}

func (f *cursorRepoFake) token(sourceID, itemID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cursor, ok := f.cursors[sourceID+"/"+itemID]
	return cursor.Token, ok
}
