package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
)

type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, source_id, type, state, input, output, error, retry_of, created_at, started_at, completed_at`

func (r *JobRepository) Create(ctx context.Context, job *domain.ProcessingJob) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO processing_jobs (`+jobColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`, job.ID, job.SourceID, string(job.Type), string(job.State), []byte(job.Input), nullableJSON(job.Output),
		job.Error, job.RetryOf, job.CreatedAt, job.StartedAt, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.ProcessingJob, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+jobColumns+`
FROM processing_jobs
WHERE id = $1
`, id)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get job", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("get job by id: %w", err)
	}
	return &job, nil
}

// MarkProcessing moves a pending job to processing. Any other current state
// is rejected so a job is never dispatched twice.
func (r *JobRepository) MarkProcessing(ctx context.Context, id string, startedAt time.Time) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE processing_jobs
SET state = 'processing', started_at = $2
WHERE id = $1 AND state = 'pending'
`, id, startedAt)
	if err != nil {
		return fmt.Errorf("mark job processing: %w", err)
	}
	return r.checkTransition(ctx, result, id, domain.JobProcessing)
}

func (r *JobRepository) MarkCompleted(ctx context.Context, id string, output []byte, completedAt time.Time) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE processing_jobs
SET state = 'completed', output = $2, completed_at = $3
WHERE id = $1 AND state = 'processing'
`, id, nullableJSON(output), completedAt)
	if err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	return r.checkTransition(ctx, result, id, domain.JobCompleted)
}

func (r *JobRepository) MarkFailed(ctx context.Context, id string, errDetail string, completedAt time.Time) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE processing_jobs
SET state = 'failed', error = $2, completed_at = $3
WHERE id = $1 AND state = 'processing'
`, id, errDetail, completedAt)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	return r.checkTransition(ctx, result, id, domain.JobFailed)
}

func (r *JobRepository) checkTransition(ctx context.Context, result sql.Result, id string, to domain.JobState) error {
	err := expectOneRow(result, "transition job")
	if err == nil {
		return nil
	}
	if !errors.Is(err, errNoRows) {
		return err
	}

	var current string
	lookupErr := r.db.QueryRowContext(ctx, `SELECT state FROM processing_jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(lookupErr, sql.ErrNoRows) {
		return domain.WrapError(domain.ErrNotFound, "transition job", fmt.Errorf("id=%s", id))
	}
	if lookupErr != nil {
		return fmt.Errorf("load job state: %w", lookupErr)
	}
	return domain.WrapError(domain.ErrInvalidTransition, "transition job", fmt.Errorf("job %s: %s -> %s", id, current, to))
}

// FindActive returns the oldest pending or processing job of the given type for
// the source, or nil when there is none.
func (r *JobRepository) FindActive(ctx context.Context, jobType domain.JobType, sourceID string) (*domain.ProcessingJob, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+jobColumns+`
FROM processing_jobs
WHERE type = $1 AND source_id = $2 AND state IN ('pending', 'processing')
ORDER BY created_at
LIMIT 1
`, string(jobType), sourceID)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active job: %w", err)
	}
	return &job, nil
}

func (r *JobRepository) ListByState(ctx context.Context, state domain.JobState, createdBefore time.Time, limit int) ([]domain.ProcessingJob, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+jobColumns+`
FROM processing_jobs
WHERE state = $1 AND created_at < $2
ORDER BY created_at
LIMIT $3
`, string(state), createdBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs by state: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ProcessingJob, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

func scanJob(row rowScanner) (domain.ProcessingJob, error) {
	var (
		job           domain.ProcessingJob
		jobType       string
		state         string
		input, output []byte
	)
	err := row.Scan(
		&job.ID,
		&job.SourceID,
		&jobType,
		&state,
		&input,
		&output,
		&job.Error,
		&job.RetryOf,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return domain.ProcessingJob{}, err
	}
	job.Type = domain.JobType(jobType)
	job.State = domain.JobState(state)
	job.Input = input
	if len(output) > 0 {
		job.Output = output
	}
	return job, nil
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
