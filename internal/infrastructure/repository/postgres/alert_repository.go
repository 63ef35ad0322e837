package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
)

type AlertRepository struct {
	db *sql.DB
}

func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

func (r *AlertRepository) Append(ctx context.Context, alert *domain.WatchdogAlert) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO watchdog_alerts (id, type, severity, title, description, source_ref, resolved, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`, alert.ID, alert.Type, string(alert.Severity), alert.Title, alert.Description, alert.SourceRef, alert.Resolved, alert.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (r *AlertRepository) ListActive(ctx context.Context) ([]domain.WatchdogAlert, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, type, severity, title, description, source_ref, resolved, created_at
FROM watchdog_alerts
WHERE NOT resolved
ORDER BY created_at DESC, id
`)
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}
	defer rows.Close()

	out := make([]domain.WatchdogAlert, 0)
	for rows.Next() {
		var (
			alert    domain.WatchdogAlert
			severity string
		)
		if err := rows.Scan(&alert.ID, &alert.Type, &severity, &alert.Title, &alert.Description, &alert.SourceRef, &alert.Resolved, &alert.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alert.Severity = domain.Severity(severity)
		out = append(out, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return out, nil
}

func (r *AlertRepository) Resolve(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE watchdog_alerts SET resolved = TRUE WHERE id = $1
`, id)
	if err != nil {
		return fmt.Errorf("resolve alert: %w", err)
	}
	if err := expectOneRow(result, "resolve alert"); err != nil {
		if errors.Is(err, errNoRows) {
			return domain.WrapError(domain.ErrNotFound, "resolve alert", fmt.Errorf("id=%s", id))
		}
		return err
	}
	return nil
}
