package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
	"github.com/kirillkom/ledger-ingest/internal/core/ports"
)

// SyncTrigger creates sync jobs so that each item has at most one active one.
type SyncTrigger struct {
	sources   ports.SourceRepository
	jobs      ports.JobRepository
	submitter ports.JobSubmitter
	group     singleflight.Group
}

func NewSyncTrigger(sources ports.SourceRepository, jobs ports.JobRepository, submitter ports.JobSubmitter) *SyncTrigger {
	return &SyncTrigger{sources: sources, jobs: jobs, submitter: submitter}
}

// Trigger returns the id of the active sync job for the source, creating one if none exists.
func (t *SyncTrigger) Trigger(ctx context.Context, source *domain.DataSource, itemID, reason string) (string, error) {
	if itemID == "" {
		itemID = source.ItemID
	}
	v, err, shared := t.group.Do(source.ID+":"+itemID, func() (any, error) {
		active, err := t.jobs.FindActive(ctx, domain.JobSync, source.ID)
		if err != nil {
			return "", fmt.Errorf("find active sync job: %w", err)
		}
		if active != nil {
			return active.ID, nil
		}
		return t.submitter.Create(ctx, domain.SyncInput{
			SourceID: source.ID,
			ItemID:   itemID,
			Trigger:  reason,
		})
	})
	if err != nil {
		return "", err
	}
	jobID := v.(string)
	slog.Debug("sync_triggered", "source_id", source.ID, "item_id", itemID, "job_id", jobID, "reason", reason, "coalesced", shared)
	return jobID, nil
}

// TriggerAll triggers a sync for every active aggregator source.
func (t *SyncTrigger) TriggerAll(ctx context.Context, reason string) (int, error) {
	sources, err := t.sources.ListActiveByKind(ctx, domain.SourceBankAggregator)
	if err != nil {
		return 0, fmt.Errorf("list aggregator sources: %w", err)
	}
	triggered := 0
	for i := range sources {
		if _, err := t.Trigger(ctx, &sources[i], sources[i].ItemID, reason); err != nil {
			slog.Warn("sync_trigger_failed", "source_id", sources[i].ID, "error", err)
			continue
		}
		triggered++
	}
	return triggered, nil
}
