// Package queue holds the worker pool shared by the job queue backends.
package queue

import (
	"context"
	"log/slog"
	"sync"
)

// Work starts workers goroutines that pull job ids from jobs until ctx is done
// or jobs is closed. A job already taken keeps running after ctx is cancelled;
// callers bound it with their own timeout. The returned func waits for all
// workers to return.
func Work(ctx context.Context, logger *slog.Logger, workers int, jobs <-chan string, handler func(context.Context, string) error) (wait func()) {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case jobID, ok := <-jobs:
					if !ok {
						return
					}
					if err := handler(context.WithoutCancel(ctx), jobID); err != nil {
						logger.Warn("job_handler_error", "worker", worker, "job_id", jobID, "error", err)
					}
				}
			}
		}(i)
	}
	return wg.Wait
}
