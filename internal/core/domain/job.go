package domain

import (
	"encoding/json"
	"time"
)

type JobType string

const (
	JobImport     JobType = "import"
	JobCategorize JobType = "categorize"
	JobValidate   JobType = "validate"
	JobReconcile  JobType = "reconcile"
	JobSync       JobType = "sync"
	JobReceipt    JobType = "receipt"
)

type JobState string

const (
	JobPending    JobState = "pending"
	JobProcessing JobState = "processing"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
)

func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransitionTo reports whether next is reachable from s in one step.
// Jobs never return to pending; retries are new jobs.
func (s JobState) CanTransitionTo(next JobState) bool {
	switch s {
	case JobPending:
		return next == JobProcessing
	case JobProcessing:
		return next == JobCompleted || next == JobFailed
	default:
		return false
	}
}

type ProcessingJob struct {
	ID          string          `json:"id"`
	SourceID    string          `json:"source_id,omitempty"`
	Type        JobType         `json:"type"`
	State       JobState        `json:"state"`
	Input       json.RawMessage `json:"input"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	RetryOf     string          `json:"retry_of,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}
