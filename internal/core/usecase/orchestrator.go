package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
	"github.com/kirillkom/ledger-ingest/internal/core/ports"
)

const maxErrorDetail = 512

var payloadValidator = validator.New(validator.WithRequiredStructEnabled())

// JobHandler executes one job type. Handlers run sequentially within a job.
type JobHandler interface {
	Handle(ctx context.Context, job *domain.ProcessingJob, input domain.JobInput) (any, error)
}

type JobHandlerFunc func(ctx context.Context, job *domain.ProcessingJob, input domain.JobInput) (any, error)

func (f JobHandlerFunc) Handle(ctx context.Context, job *domain.ProcessingJob, input domain.JobInput) (any, error) {
	return f(ctx, job, input)
}

// JobOrchestrator owns job creation and the pending -> processing -> terminal state machine.
type JobOrchestrator struct {
	jobs     ports.JobRepository
	queue    ports.JobQueue
	alerts   ports.AlertRaiser
	handlers map[domain.JobType]JobHandler
	observer ports.JobObserver
	now      func() time.Time
}

func NewJobOrchestrator(jobs ports.JobRepository, queue ports.JobQueue, alerts ports.AlertRaiser) *JobOrchestrator {
	return &JobOrchestrator{
		jobs:     jobs,
		queue:    queue,
		alerts:   alerts,
		handlers: make(map[domain.JobType]JobHandler),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (o *JobOrchestrator) Register(jobType domain.JobType, handler JobHandler) {
	o.handlers[jobType] = handler
}

func (o *JobOrchestrator) WithObserver(observer ports.JobObserver) *JobOrchestrator {
	o.observer = observer
	return o
}

func ValidateJobInput(input domain.JobInput) error {
	if input == nil {
		return domain.WrapError(domain.ErrInvalidInput, "validate job input", fmt.Errorf("input is required"))
	}
	if err := payloadValidator.Struct(input); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "validate job input", err)
	}
	return nil
}

// Create validates and persists a pending job, then queues it for dispatch.
// A failed publish leaves the job pending for RecoverStale to requeue.
func (o *JobOrchestrator) Create(ctx context.Context, input domain.JobInput) (string, error) {
	return o.create(ctx, input, "")
}

func (o *JobOrchestrator) create(ctx context.Context, input domain.JobInput, retryOf string) (string, error) {
	if err := ValidateJobInput(input); err != nil {
		return "", err
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("marshal job input: %w", err)
	}

	job := &domain.ProcessingJob{
		ID:        uuid.NewString(),
		SourceID:  input.Source(),
		Type:      input.JobType(),
		State:     domain.JobPending,
		Input:     raw,
		RetryOf:   retryOf,
		CreatedAt: o.now(),
	}
	if err := o.jobs.Create(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}

	if err := o.queue.Publish(ctx, job.ID); err != nil {
		slog.Warn("job_publish_deferred", "job_id", job.ID, "job_type", job.Type, "error", err)
	}
	return job.ID, nil
}

// CreateRetry creates a new job with the input of a failed one.
func (o *JobOrchestrator) CreateRetry(ctx context.Context, failedJobID string) (string, error) {
	job, err := o.Get(ctx, failedJobID)
	if err != nil {
		return "", err
	}
	if job.State != domain.JobFailed {
		return "", domain.WrapError(domain.ErrInvalidTransition, "retry job", fmt.Errorf("job %s is %s, only failed jobs can be retried", job.ID, job.State))
	}
	input, err := domain.DecodeJobInput(job.Type, job.Input)
	if err != nil {
		return "", err
	}
	return o.create(ctx, input, job.ID)
}

func (o *JobOrchestrator) Get(ctx context.Context, jobID string) (*domain.ProcessingJob, error) {
	job, err := o.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("fetch job by id: %w", err)
	}
	return job, nil
}

// Dispatch runs a pending job to completion or failure. A job that already
// left pending is rejected with ErrInvalidTransition and left untouched.
func (o *JobOrchestrator) Dispatch(ctx context.Context, jobID string) error {
	job, err := o.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.State.CanTransitionTo(domain.JobProcessing) {
		return domain.WrapError(domain.ErrInvalidTransition, "dispatch job", fmt.Errorf("job %s is %s", job.ID, job.State))
	}

	startedAt := o.now()
	if err := o.jobs.MarkProcessing(ctx, job.ID, startedAt); err != nil {
		return fmt.Errorf("set state=processing: %w", err)
	}
	if o.observer != nil {
		o.observer.JobStarted(job.Type, startedAt.Sub(job.CreatedAt))
	}

	output, handleErr := o.run(ctx, job)
	if handleErr == nil {
		var raw []byte
		raw, handleErr = json.Marshal(output)
		if handleErr == nil {
			handleErr = o.complete(ctx, job, raw, startedAt)
			if handleErr == nil {
				return nil
			}
		}
	}

	if failErr := o.fail(ctx, job, handleErr, startedAt); failErr != nil {
		return fmt.Errorf("%w; mark failed state: %v", handleErr, failErr)
	}
	return fmt.Errorf("job %s failed: %w", job.ID, handleErr)
}

func (o *JobOrchestrator) run(ctx context.Context, job *domain.ProcessingJob) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("job_handler_panic", "job_id", job.ID, "job_type", job.Type, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	input, err := domain.DecodeJobInput(job.Type, job.Input)
	if err != nil {
		return nil, err
	}
	handler, ok := o.handlers[job.Type]
	if !ok {
		return nil, domain.WrapError(domain.ErrInvalidInput, "dispatch job", fmt.Errorf("no handler for job type %q", job.Type))
	}
	return handler.Handle(ctx, job, input)
}

func (o *JobOrchestrator) complete(ctx context.Context, job *domain.ProcessingJob, output []byte, startedAt time.Time) error {
	completedAt := o.now()
	if err := o.jobs.MarkCompleted(context.WithoutCancel(ctx), job.ID, output, completedAt); err != nil {
		return fmt.Errorf("set state=completed: %w", err)
	}
	if o.observer != nil {
		o.observer.JobFinished(job.Type, domain.JobCompleted, completedAt.Sub(startedAt))
	}
	slog.Info("job_completed", "job_id", job.ID, "job_type", job.Type, "duration_ms", completedAt.Sub(startedAt).Milliseconds())
	return nil
}

func (o *JobOrchestrator) fail(ctx context.Context, job *domain.ProcessingJob, jobErr error, startedAt time.Time) error {
	completedAt := o.now()
	detail := errorDetail(jobErr)
	if err := o.jobs.MarkFailed(context.WithoutCancel(ctx), job.ID, detail, completedAt); err != nil {
		return err
	}
	if o.observer != nil {
		o.observer.JobFinished(job.Type, domain.JobFailed, completedAt.Sub(startedAt))
	}
	slog.Error("job_failed", "job_id", job.ID, "job_type", job.Type, "error", jobErr)

	o.alerts.Raise(ctx, domain.AlertInput{
		Type:        domain.AlertJobFailed,
		Severity:    domain.SeverityHigh,
		Title:       fmt.Sprintf("%s job failed", job.Type),
		Description: detail,
		SourceRef:   job.ID,
	})
	return nil
}

// RecoverStale requeues pending jobs older than olderThan and fails jobs left
// in processing by a crashed worker. Failed jobs are not resumed; operators retry them.
func (o *JobOrchestrator) RecoverStale(ctx context.Context, olderThan time.Duration) (requeued, interrupted int, err error) {
	cutoff := o.now().Add(-olderThan)

	pending, err := o.jobs.ListByState(ctx, domain.JobPending, cutoff, 500)
	if err != nil {
		return 0, 0, fmt.Errorf("list stale pending jobs: %w", err)
	}
	var requeueErr error
	for _, job := range pending {
		if err := o.queue.Publish(ctx, job.ID); err != nil {
			if domain.IsKind(err, domain.ErrTemporary) {
				// Queue is backlogged; the next pass picks the rest up.
				slog.Warn("job_requeue_deferred", "job_id", job.ID, "remaining", len(pending)-requeued, "error", err)
				break
			}
			requeueErr = errors.Join(requeueErr, fmt.Errorf("requeue job %s: %w", job.ID, err))
			continue
		}
		requeued++
	}

	processing, err := o.jobs.ListByState(ctx, domain.JobProcessing, cutoff, 500)
	if err != nil {
		return requeued, interrupted, fmt.Errorf("list stale processing jobs: %w", err)
	}
	for _, job := range processing {
		if job.StartedAt != nil && job.StartedAt.After(cutoff) {
			continue
		}
		if err := o.jobs.MarkFailed(ctx, job.ID, "interrupted before completion", o.now()); err != nil {
			if domain.IsKind(err, domain.ErrInvalidTransition) {
				continue
			}
			return requeued, interrupted, fmt.Errorf("fail interrupted job %s: %w", job.ID, err)
		}
		interrupted++
		o.alerts.Raise(ctx, domain.AlertInput{
			Type:        domain.AlertJobInterrupted,
			Severity:    domain.SeverityHigh,
			Title:       fmt.Sprintf("%s job interrupted", job.Type),
			Description: "worker stopped while the job was processing; create a retry to run it again",
			SourceRef:   job.ID,
		})
	}
	return requeued, interrupted, requeueErr
}

func errorDetail(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > maxErrorDetail {
		msg = msg[:maxErrorDetail]
	}
	return msg
}
