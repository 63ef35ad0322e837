package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
	"github.com/kirillkom/ledger-ingest/internal/core/ports"
)

type SyncConfig struct {
	HistoryWindow time.Duration
	PageSize      int
	CallTimeout   time.Duration
}

func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		HistoryWindow: 730 * 24 * time.Hour,
		PageSize:      500,
		CallTimeout:   30 * time.Second,
	}
}

func (c SyncConfig) normalize() SyncConfig {
	def := DefaultSyncConfig()
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = def.HistoryWindow
	}
	if c.PageSize <= 0 {
		c.PageSize = def.PageSize
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = def.CallTimeout
	}
	return c
}

// SyncEngine pulls transactions from an external source into the store.
// At most one sync runs per (source, item) at a time.
type SyncEngine struct {
	sources   ports.SourceRepository
	cursors   ports.CursorRepository
	txns      ports.TransactionRepository
	client    ports.SourceClient
	locker    ports.ItemLocker
	alerts    ports.AlertRaiser
	followUps ports.JobSubmitter
	observe   func(mode domain.SyncMode, records int)

	cfg SyncConfig
	now func() time.Time
}

func NewSyncEngine(
	sources ports.SourceRepository,
	cursors ports.CursorRepository,
	txns ports.TransactionRepository,
	client ports.SourceClient,
	locker ports.ItemLocker,
	alerts ports.AlertRaiser,
	cfg SyncConfig,
) *SyncEngine {
	return &SyncEngine{
		sources: sources,
		cursors: cursors,
		txns:    txns,
		client:  client,
		locker:  locker,
		alerts:  alerts,
		cfg:     cfg.normalize(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithFollowUps makes the engine enqueue a categorize job per inserted transaction.
func (e *SyncEngine) WithFollowUps(submitter ports.JobSubmitter) *SyncEngine {
	e.followUps = submitter
	return e
}

// WithObserver registers a callback receiving the number of records fetched per sync.
func (e *SyncEngine) WithObserver(fn func(mode domain.SyncMode, records int)) *SyncEngine {
	e.observe = fn
	return e
}

func syncLockKey(sourceID, itemID string) string {
	return "sync:" + sourceID + ":" + itemID
}

func (e *SyncEngine) Sync(ctx context.Context, sourceID, itemID string) (domain.SyncResult, error) {
	result := domain.SyncResult{SourceID: sourceID, ItemID: itemID, Errors: []string{}}

	source, err := e.sources.GetByID(ctx, sourceID)
	if err != nil {
		return result, fmt.Errorf("load source: %w", err)
	}
	if source.Status == domain.SourceInactive {
		return result, domain.WrapError(domain.ErrInvalidInput, "sync", fmt.Errorf("source %s is inactive", sourceID))
	}
	if itemID == "" {
		itemID = source.ItemID
		result.ItemID = itemID
	}

	release, err := e.locker.Acquire(ctx, syncLockKey(sourceID, itemID))
	if err != nil {
		return result, fmt.Errorf("acquire sync lock: %w", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("sync_lock_release_failed", "source_id", sourceID, "item_id", itemID, "error", err)
		}
	}()

	cursor, err := e.cursors.Get(ctx, sourceID, itemID)
	if err != nil {
		return result, fmt.Errorf("load sync cursor: %w", err)
	}

	firstSync := cursor == nil
	if firstSync {
		result.Mode = domain.SyncFull
		err = e.fullSync(ctx, source, itemID, &result)
	} else {
		result.Mode = domain.SyncIncremental
		err = e.incrementalSync(ctx, source, *cursor, &result)
	}
	if e.observe != nil {
		e.observe(result.Mode, result.Fetched)
	}
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		e.recordFailure(ctx, source, itemID, firstSync, err)
		return result, err
	}

	now := e.now()
	if err := e.sources.MarkSynced(ctx, sourceID, now); err != nil {
		return result, fmt.Errorf("mark source synced: %w", err)
	}
	if source.Status != domain.SourceActive {
		if err := e.sources.UpdateStatus(ctx, sourceID, domain.SourceActive); err != nil {
			return result, fmt.Errorf("reactivate source: %w", err)
		}
	}

	slog.Info("sync_completed",
		"source_id", sourceID,
		"item_id", itemID,
		"mode", result.Mode,
		"fetched", result.Fetched,
		"added", result.Added,
		"modified", result.Modified,
		"removed", result.Removed,
		"record_errors", len(result.Errors),
	)
	return result, nil
}

func (e *SyncEngine) fullSync(ctx context.Context, source *domain.DataSource, itemID string, result *domain.SyncResult) error {
	end := e.now()
	start := end.Add(-e.cfg.HistoryWindow)

	var seedCursor string
	offset := 0
	for {
		page, err := e.fetchFullRange(ctx, itemID, start, end, offset)
		if err != nil {
			return fmt.Errorf("fetch full range at offset %d: %w", offset, err)
		}
		result.Fetched += len(page.Records)

		added, _, err := e.applyRecords(ctx, source, page.Records, result)
		if err != nil {
			return err
		}
		result.Added += added
		if page.Cursor != "" {
			seedCursor = page.Cursor
		}

		if len(page.Records) < e.cfg.PageSize {
			break
		}
		offset += len(page.Records)
	}

	// The cursor row marks the item as initialized; later runs are incremental.
	if err := e.cursors.Save(ctx, domain.SyncCursor{
		SourceID:     source.ID,
		ItemID:       itemID,
		Token:        seedCursor,
		LastSyncedAt: e.now(),
	}); err != nil {
		return fmt.Errorf("save sync cursor: %w", err)
	}
	return nil
}

func (e *SyncEngine) incrementalSync(ctx context.Context, source *domain.DataSource, cursor domain.SyncCursor, result *domain.SyncResult) error {
	token := cursor.Token
	for {
		page, err := e.fetchIncremental(ctx, cursor.ItemID, token)
		if err != nil {
			return fmt.Errorf("fetch incremental: %w", err)
		}
		result.Fetched += len(page.Added) + len(page.Modified) + len(page.Removed)

		added, updated, err := e.applyRecords(ctx, source, page.Added, result)
		if err != nil {
			return err
		}
		result.Added += added
		result.Modified += updated

		insertedByModify, modified, err := e.applyRecords(ctx, source, page.Modified, result)
		if err != nil {
			return err
		}
		result.Added += insertedByModify
		result.Modified += modified

		for _, externalID := range page.Removed {
			if err := e.txns.DeleteByExternalID(ctx, source.ID, externalID); err != nil {
				return fmt.Errorf("delete removed transaction %s: %w", externalID, err)
			}
			result.Removed++
		}

		// Data for this page is applied; only now may the cursor move past it.
		if err := e.cursors.Save(ctx, domain.SyncCursor{
			SourceID:     source.ID,
			ItemID:       cursor.ItemID,
			Token:        page.NextCursor,
			LastSyncedAt: e.now(),
		}); err != nil {
			return fmt.Errorf("save sync cursor: %w", err)
		}
		slog.Debug("sync_page_applied", "source_id", source.ID, "item_id", cursor.ItemID, "has_more", page.HasMore)

		if !page.HasMore {
			return nil
		}
		if page.NextCursor == token {
			return fmt.Errorf("provider reported more data without advancing cursor %q", token)
		}
		token = page.NextCursor
	}
}

// applyRecords upserts records by provenance. Malformed records and heuristic
// duplicates are skipped; any other store error aborts the page.
func (e *SyncEngine) applyRecords(ctx context.Context, source *domain.DataSource, records []domain.RawRecord, result *domain.SyncResult) (inserted, updated int, err error) {
	for _, record := range records {
		txn, err := record.Normalize(source.ID, source.ID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("record %s: %v", record.ExternalID, err))
			continue
		}

		isNew, err := e.txns.Upsert(ctx, &txn)
		if err != nil {
			if domain.IsKind(err, domain.ErrDuplicate) {
				continue
			}
			return inserted, updated, fmt.Errorf("upsert transaction %s: %w", record.ExternalID, err)
		}
		if !isNew {
			updated++
			continue
		}
		inserted++
		e.enqueueCategorize(ctx, txn.ID, result)
	}
	return inserted, updated, nil
}

func (e *SyncEngine) enqueueCategorize(ctx context.Context, transactionID string, result *domain.SyncResult) {
	if e.followUps == nil {
		return
	}
	if _, err := e.followUps.Create(ctx, domain.CategorizeInput{TransactionID: transactionID}); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("enqueue categorize for %s: %v", transactionID, err))
	}
}

func (e *SyncEngine) fetchFullRange(ctx context.Context, itemID string, start, end time.Time, offset int) (ports.FullRangePage, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	page, err := e.client.FetchFullRange(callCtx, itemID, start, end, offset, e.cfg.PageSize)
	if err != nil {
		return ports.FullRangePage{}, e.deadlineError(ctx, "fetch full range", err)
	}
	return page, nil
}

func (e *SyncEngine) fetchIncremental(ctx context.Context, itemID, cursor string) (ports.IncrementalPage, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	page, err := e.client.FetchIncremental(callCtx, itemID, cursor, e.cfg.PageSize)
	if err != nil {
		return ports.IncrementalPage{}, e.deadlineError(ctx, "fetch incremental", err)
	}
	return page, nil
}

func (e *SyncEngine) deadlineError(parent context.Context, operation string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return domain.WrapError(domain.ErrTemporary, operation, fmt.Errorf("provider call exceeded %s: %w", e.cfg.CallTimeout, err))
	}
	return err
}

func (e *SyncEngine) recordFailure(ctx context.Context, source *domain.DataSource, itemID string, firstSync bool, syncErr error) {
	if err := e.sources.UpdateStatus(context.WithoutCancel(ctx), source.ID, domain.SourceError); err != nil {
		slog.Warn("sync_source_status_failed", "source_id", source.ID, "error", err)
	}

	severity := domain.SeverityHigh
	stage := "steady-state"
	if firstSync {
		severity = domain.SeverityMedium
		stage = "initial"
	}
	e.alerts.Raise(ctx, domain.AlertInput{
		Type:        domain.AlertSyncFailed,
		Severity:    severity,
		Title:       fmt.Sprintf("%s sync failed for %s", stage, source.Name),
		Description: fmt.Sprintf("item %s: %v", itemID, syncErr),
		SourceRef:   source.ID,
	})
}
