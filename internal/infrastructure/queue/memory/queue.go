// Package memory is an in-process job queue for single-binary deployments and tests.
package memory

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
	"github.com/kirillkom/ledger-ingest/internal/infrastructure/queue"
)

var errQueueFull = errors.New("queue buffer is full")

type Queue struct {
	jobs    chan string
	workers int
	logger  *slog.Logger
}

func New(buffer, workers int, logger *slog.Logger) *Queue {
	if buffer <= 0 {
		buffer = 64
	}
	return &Queue{
		jobs:    make(chan string, buffer),
		workers: workers,
		logger:  logger,
	}
}

// Publish never blocks. A full buffer is a temporary failure; the job stays
// pending and is picked up by stale-job recovery.
func (q *Queue) Publish(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.jobs <- jobID:
		return nil
	default:
		return domain.WrapError(domain.ErrTemporary, "memory queue publish", errQueueFull)
	}
}

func (q *Queue) Consume(ctx context.Context, handler func(context.Context, string) error) error {
	wait := queue.Work(ctx, q.logger, q.workers, q.jobs, handler)
	<-ctx.Done()
	wait()
	return nil
}

func (q *Queue) Len() int {
	return len(q.jobs)
}
