package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
	"github.com/kirillkom/ledger-ingest/internal/core/ports"
)

type Watchdog struct {
	alerts  ports.AlertRepository
	onRaise func(domain.Severity)
	now     func() time.Time
}

func NewWatchdog(alerts ports.AlertRepository) *Watchdog {
	return &Watchdog{
		alerts: alerts,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// OnRaise registers a hook called for every raised alert, e.g. a metrics counter.
func (w *Watchdog) OnRaise(fn func(domain.Severity)) {
	w.onRaise = fn
}

// Raise appends an alert. Storage failures are logged and never returned.
func (w *Watchdog) Raise(ctx context.Context, in domain.AlertInput) {
	severity := in.Severity
	if severity == "" {
		severity = domain.SeverityMedium
	}
	alert := &domain.WatchdogAlert{
		ID:          uuid.NewString(),
		Type:        in.Type,
		Severity:    severity,
		Title:       in.Title,
		Description: in.Description,
		SourceRef:   in.SourceRef,
		CreatedAt:   w.now(),
	}

	if err := w.alerts.Append(context.WithoutCancel(ctx), alert); err != nil {
		slog.Error("watchdog_raise_failed",
			"alert_type", alert.Type,
			"severity", alert.Severity,
			"source_ref", alert.SourceRef,
			"error", err,
		)
		return
	}
	slog.Warn("watchdog_alert",
		"alert_id", alert.ID,
		"alert_type", alert.Type,
		"severity", alert.Severity,
		"source_ref", alert.SourceRef,
		"title", alert.Title,
	)
	if w.onRaise != nil {
		w.onRaise(severity)
	}
}

// ListActive returns unresolved alerts, newest first.
func (w *Watchdog) ListActive(ctx context.Context) ([]domain.WatchdogAlert, error) {
	alerts, err := w.alerts.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}
	return alerts, nil
}

func (w *Watchdog) Resolve(ctx context.Context, alertID string) error {
	if alertID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "resolve alert", fmt.Errorf("alert id is required"))
	}
	if err := w.alerts.Resolve(ctx, alertID); err != nil {
		return fmt.Errorf("resolve alert: %w", err)
	}
	return nil
}
