package domain

import "time"

type SourceKind string

const (
	SourceBankAggregator SourceKind = "bank_aggregator"
	SourceManual         SourceKind = "manual"
	SourceReceiptOCR     SourceKind = "receipt_ocr"
	SourceSpreadsheet    SourceKind = "spreadsheet"
)

func (k SourceKind) Valid() bool {
	switch k {
	case SourceBankAggregator, SourceManual, SourceReceiptOCR, SourceSpreadsheet:
		return true
	default:
		return false
	}
}

type SourceStatus string

const (
	SourceActive   SourceStatus = "active"
	SourceInactive SourceStatus = "inactive"
	SourceError    SourceStatus = "error"
)

// DataSource is never hard-deleted; deactivation is a status change.
type DataSource struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Kind         SourceKind   `json:"kind"`
	Status       SourceStatus `json:"status"`
	ItemID       string       `json:"item_id,omitempty"`
	LastSyncedAt *time.Time   `json:"last_synced_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// SyncCursor marks where the next incremental fetch for one external item resumes.
type SyncCursor struct {
	SourceID     string    `json:"source_id"`
	ItemID       string    `json:"item_id"`
	Token        string    `json:"token"`
	LastSyncedAt time.Time `json:"last_synced_at"`
}

type SyncMode string

const (
	SyncFull        SyncMode = "full"
	SyncIncremental SyncMode = "incremental"
)

type SyncResult struct {
	SourceID string   `json:"source_id"`
	ItemID   string   `json:"item_id"`
	Mode     SyncMode `json:"mode"`
	Fetched  int      `json:"fetched"`
	Added    int      `json:"added"`
	Modified int      `json:"modified"`
	Removed  int      `json:"removed"`
	Errors   []string `json:"errors"`
}
