package bootstrap

import (
	"context"
	"errors"
	"time"

	"github.com/kirillkom/ledger-ingest/internal/infrastructure/scheduler"
)

// RunWorker recovers stale jobs, then consumes the queue until ctx is done.
// Each dispatch is bounded by JOB_TIMEOUT.
func (a *App) RunWorker(ctx context.Context) error {
	a.recoverStale(ctx)
	go a.recoverLoop(ctx)

	timeout := a.Config.JobTimeout
	return a.Queue.Consume(ctx, func(handlerCtx context.Context, jobID string) error {
		if timeout <= 0 {
			return a.Jobs.Dispatch(handlerCtx, jobID)
		}
		jobCtx, cancel := context.WithTimeout(handlerCtx, timeout)
		defer cancel()
		return a.Jobs.Dispatch(jobCtx, jobID)
	})
}

func (a *App) recoverLoop(ctx context.Context) {
	interval := a.Config.StaleJobAfter
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.recoverStale(ctx)
		}
	}
}

func (a *App) recoverStale(ctx context.Context) {
	requeued, interrupted, err := a.Jobs.RecoverStale(ctx, a.Config.StaleJobAfter)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			a.Logger.Error("job_recovery_failed", "requeued", requeued, "interrupted", interrupted, "error", err)
		}
		return
	}
	if requeued > 0 || interrupted > 0 {
		a.Logger.Info("job_recovery", "requeued", requeued, "interrupted", interrupted)
	}
}

// NewScheduler builds the asynq sync tick. It needs REDIS_ADDR.
func (a *App) NewScheduler() (*scheduler.Scheduler, error) {
	if a.Config.RedisAddr == "" {
		return nil, errors.New("scheduler requires REDIS_ADDR")
	}
	return scheduler.New(scheduler.Config{
		RedisAddr: a.Config.RedisAddr,
		Spec:      a.Config.SyncSchedule,
		Trigger:   a.SyncTrigger,
		Logger:    a.Logger,
	})
}
