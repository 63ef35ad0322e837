// Package scheduler emits the periodic sync tick through asynq.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	QueueDefault = "default"
	// TaskSyncTick creates sync jobs for every active aggregator source.
	TaskSyncTick = "sync:tick"
)

// SyncTrigger is the part of the sync trigger use case the tick needs.
type SyncTrigger interface {
	TriggerAll(ctx context.Context, reason string) (int, error)
}

type Config struct {
	RedisAddr string
	// Spec is a cron expression or "@every <duration>".
	Spec    string
	Trigger SyncTrigger
	Logger  *slog.Logger
}

// Scheduler wraps the asynq server handling the tick and the scheduler enqueuing it.
type Scheduler struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

func New(cfg Config) (*Scheduler, error) {
	if cfg.Trigger == nil {
		return nil, errors.New("scheduler: sync trigger is required")
	}
	if cfg.Spec == "" {
		cfg.Spec = "@every 30m"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}

	srv := asynq.NewServer(redisOpts, asynq.Config{
		Concurrency: 1,
		Queues: map[string]int{
			QueueDefault: 1,
		},
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskSyncTick, HandleSyncTick(cfg.Trigger, logger))

	scheduler := asynq.NewScheduler(redisOpts, &asynq.SchedulerOpts{Location: time.UTC})
	// Unique keeps replicas that all run a scheduler from stacking ticks.
	if _, err := scheduler.Register(cfg.Spec, NewSyncTickTask(),
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(0),
		asynq.Unique(time.Minute),
	); err != nil {
		return nil, fmt.Errorf("register sync tick %q: %w", cfg.Spec, err)
	}

	return &Scheduler{server: srv, mux: mux, scheduler: scheduler, logger: logger}, nil
}

func NewSyncTickTask() *asynq.Task {
	return asynq.NewTask(TaskSyncTick, nil)
}

// HandleSyncTick does not retry: the next tick covers a missed one.
func HandleSyncTick(trigger SyncTrigger, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		created, err := trigger.TriggerAll(ctx, "schedule")
		if err != nil {
			logger.Error("sync_tick_failed", "error", err)
			return fmt.Errorf("sync tick: %v: %w", err, asynq.SkipRetry)
		}
		logger.Info("sync_tick", "jobs", created)
		return nil
	}
}

// Run blocks until ctx is done or the server stops.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Run(s.mux)
	}()

	select {
	case <-ctx.Done():
		s.scheduler.Shutdown()
		s.server.Shutdown()
		return nil
	case err := <-errCh:
		s.scheduler.Shutdown()
		return err
	}
}
