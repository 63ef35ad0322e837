package domain

import "time"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

const (
	AlertJobFailed         = "job_failed"
	AlertJobInterrupted    = "job_interrupted"
	AlertSyncFailed        = "sync_failed"
	AlertSourceError       = "source_error"
	AlertReceiptLowQuality = "receipt_low_confidence"
	AlertImportMalformed   = "import_malformed"
)

// WatchdogAlert is append-mostly: Resolved is the only field mutated after creation.
type WatchdogAlert struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Severity    Severity  `json:"severity"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	SourceRef   string    `json:"source_ref,omitempty"`
	Resolved    bool      `json:"resolved"`
	CreatedAt   time.Time `json:"created_at"`
}

type AlertInput struct {
	Type        string
	Severity    Severity
	Title       string
	Description string
	SourceRef   string
}
