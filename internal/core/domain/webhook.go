package domain

import (
	"encoding/json"
	"time"
)

type WebhookStatus string

const (
	WebhookReceived  WebhookStatus = "received"
	WebhookProcessed WebhookStatus = "processed"
	WebhookIgnored   WebhookStatus = "ignored"
	WebhookFailed    WebhookStatus = "failed"
)

type WebhookEvent struct {
	ID          string          `json:"id"`
	SourceType  string          `json:"source_type"`
	EventCode   string          `json:"event_code"`
	ItemID      string          `json:"item_id"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Raw         []byte          `json:"-"`
	Signature   string          `json:"-"`
	Status      WebhookStatus   `json:"status"`
	Error       string          `json:"error,omitempty"`
	ReceivedAt  time.Time       `json:"received_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
}

type WebhookResult struct {
	EventID string `json:"event_id"`
	Handled bool   `json:"handled"`
	JobID   string `json:"job_id,omitempty"`
}
