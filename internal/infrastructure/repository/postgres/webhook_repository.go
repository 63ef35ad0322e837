package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
)

// WebhookRepository is the verbatim log of provider notifications.
type WebhookRepository struct {
	db *sql.DB
}

func NewWebhookRepository(db *sql.DB) *WebhookRepository {
	return &WebhookRepository{db: db}
}

func (r *WebhookRepository) Append(ctx context.Context, event *domain.WebhookEvent) error {
	payload := []byte(event.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO webhook_events (id, source_type, event_code, item_id, payload, status, error, received_at, processed_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`, event.ID, event.SourceType, event.EventCode, event.ItemID, payload, string(event.Status), event.Error, event.ReceivedAt, event.ProcessedAt)
	if err != nil {
		return fmt.Errorf("insert webhook event: %w", err)
	}
	return nil
}

func (r *WebhookRepository) MarkStatus(ctx context.Context, id string, status domain.WebhookStatus, errMessage string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE webhook_events
SET status = $2, error = $3, processed_at = $4
WHERE id = $1
`, id, string(status), errMessage, at)
	if err != nil {
		return fmt.Errorf("update webhook event: %w", err)
	}
	return nil
}
