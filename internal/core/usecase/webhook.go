package usecase

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
	"github.com/kirillkom/ledger-ingest/internal/core/ports"
)

// WebhookHandlerFunc handles one (source type, event code) pair and returns the
// id of the job it created or reused, if any.
type WebhookHandlerFunc func(ctx context.Context, event domain.WebhookEvent) (string, error)

type webhookKey struct {
	sourceType string
	eventCode  string
}

func newWebhookKey(sourceType, eventCode string) webhookKey {
	return webhookKey{
		sourceType: strings.ToUpper(strings.TrimSpace(sourceType)),
		eventCode:  strings.ToUpper(strings.TrimSpace(eventCode)),
	}
}

// WebhookUseCase logs provider notifications verbatim and routes them to handlers.
type WebhookUseCase struct {
	log      ports.WebhookLog
	sources  ports.SourceRepository
	trigger  *SyncTrigger
	alerts   ports.AlertRaiser
	secret   []byte
	handlers map[webhookKey]WebhookHandlerFunc
	now      func() time.Time
}

func NewWebhookUseCase(
	log ports.WebhookLog,
	sources ports.SourceRepository,
	trigger *SyncTrigger,
	alerts ports.AlertRaiser,
	secret string,
) *WebhookUseCase {
	uc := &WebhookUseCase{
		log:      log,
		sources:  sources,
		trigger:  trigger,
		alerts:   alerts,
		secret:   []byte(secret),
		handlers: make(map[webhookKey]WebhookHandlerFunc),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, code := range []string{"SYNC_UPDATES_AVAILABLE", "DEFAULT_UPDATE", "INITIAL_UPDATE", "HISTORICAL_UPDATE"} {
		uc.Handle("TRANSACTIONS", code, uc.syncUpdates)
	}
	uc.Handle("ITEM", "ERROR", uc.itemError)
	return uc
}

func (uc *WebhookUseCase) Handle(sourceType, eventCode string, fn WebhookHandlerFunc) {
	uc.handlers[newWebhookKey(sourceType, eventCode)] = fn
}

// webhookEnvelope accepts the aggregator's native notification
// (webhook_type/webhook_code/item_id) and the generic receiver shape
// {sourceType, eventCode, itemId, payload}.
type webhookEnvelope struct {
	WebhookType string          `json:"webhook_type"`
	WebhookCode string          `json:"webhook_code"`
	ItemID      string          `json:"item_id"`
	SourceType  string          `json:"sourceType"`
	EventCode   string          `json:"eventCode"`
	ItemIDCamel string          `json:"itemId"`
	Payload     json.RawMessage `json:"payload"`
}

// ParseWebhook reads the routing fields of a notification.
func ParseWebhook(raw []byte) (domain.WebhookEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.WebhookEvent{}, domain.WrapError(domain.ErrInvalidInput, "parse webhook", err)
	}

	event := domain.WebhookEvent{
		SourceType: env.WebhookType,
		EventCode:  env.WebhookCode,
		ItemID:     env.ItemID,
		Payload:    json.RawMessage(raw),
		Raw:        raw,
	}
	if event.SourceType == "" && event.EventCode == "" {
		event.SourceType = env.SourceType
		event.EventCode = env.EventCode
		event.ItemID = env.ItemIDCamel
		if len(env.Payload) > 0 && string(env.Payload) != "null" {
			event.Payload = env.Payload
		}
	}
	if event.SourceType == "" || event.EventCode == "" {
		return domain.WebhookEvent{}, domain.WrapError(domain.ErrInvalidInput, "parse webhook", fmt.Errorf("webhook_type and webhook_code (or sourceType and eventCode) are required"))
	}
	return event, nil
}

// Receive stores the event before acting on it. Unhandled events are ignored, not errors.
func (uc *WebhookUseCase) Receive(ctx context.Context, event domain.WebhookEvent) (domain.WebhookResult, error) {
	if err := uc.verify(event); err != nil {
		return domain.WebhookResult{}, err
	}

	event.ID = uuid.NewString()
	event.Status = domain.WebhookReceived
	event.ReceivedAt = uc.now()
	if len(event.Payload) == 0 && len(event.Raw) > 0 {
		event.Payload = json.RawMessage(event.Raw)
	}
	if err := uc.log.Append(ctx, &event); err != nil {
		return domain.WebhookResult{}, fmt.Errorf("append webhook log: %w", err)
	}
	result := domain.WebhookResult{EventID: event.ID}

	handler, ok := uc.handlers[newWebhookKey(event.SourceType, event.EventCode)]
	if !ok {
		slog.Info("webhook_unhandled", "event_id", event.ID, "source_type", event.SourceType, "event_code", event.EventCode)
		uc.mark(ctx, event.ID, domain.WebhookIgnored, "")
		return result, nil
	}

	jobID, err := handler(ctx, event)
	if err != nil {
		slog.Error("webhook_failed", "event_id", event.ID, "source_type", event.SourceType, "event_code", event.EventCode, "error", err)
		uc.mark(ctx, event.ID, domain.WebhookFailed, err.Error())
		return result, err
	}
	uc.mark(ctx, event.ID, domain.WebhookProcessed, "")
	result.Handled = true
	result.JobID = jobID
	return result, nil
}

func (uc *WebhookUseCase) verify(event domain.WebhookEvent) error {
	if len(uc.secret) == 0 {
		return nil
	}
	expected := SignWebhook(uc.secret, event.Raw)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(event.Signature)))) {
		return domain.WrapError(domain.ErrUnauthorized, "verify webhook", fmt.Errorf("signature mismatch"))
	}
	return nil
}

// SignWebhook returns the hex HMAC-SHA256 of body.
func SignWebhook(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (uc *WebhookUseCase) mark(ctx context.Context, id string, status domain.WebhookStatus, errMessage string) {
	if err := uc.log.MarkStatus(context.WithoutCancel(ctx), id, status, errMessage, uc.now()); err != nil {
		slog.Warn("webhook_mark_failed", "event_id", id, "status", status, "error", err)
	}
}

func (uc *WebhookUseCase) syncUpdates(ctx context.Context, event domain.WebhookEvent) (string, error) {
	source, err := uc.sourceForItem(ctx, event.ItemID)
	if err != nil {
		return "", err
	}
	if source.Status == domain.SourceInactive {
		return "", domain.WrapError(domain.ErrInvalidInput, "webhook sync", fmt.Errorf("source %s is inactive", source.ID))
	}
	return uc.trigger.Trigger(ctx, source, event.ItemID, "webhook")
}

func (uc *WebhookUseCase) itemError(ctx context.Context, event domain.WebhookEvent) (string, error) {
	source, err := uc.sourceForItem(ctx, event.ItemID)
	if err != nil {
		return "", err
	}
	if err := uc.sources.UpdateStatus(ctx, source.ID, domain.SourceError); err != nil {
		return "", fmt.Errorf("mark source error: %w", err)
	}
	uc.alerts.Raise(ctx, domain.AlertInput{
		Type:        domain.AlertSourceError,
		Severity:    domain.SeverityHigh,
		Title:       fmt.Sprintf("provider reported an error for %s", source.Name),
		Description: providerErrorMessage(event.Raw),
		SourceRef:   source.ID,
	})
	return "", nil
}

func (uc *WebhookUseCase) sourceForItem(ctx context.Context, itemID string) (*domain.DataSource, error) {
	if itemID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "webhook", fmt.Errorf("item_id is required"))
	}
	source, err := uc.sources.GetByItemID(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("find source for item %s: %w", itemID, err)
	}
	return source, nil
}

func providerErrorMessage(raw []byte) string {
	var body struct {
		Error struct {
			Code    string `json:"error_code"`
			Message string `json:"error_message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.Error.Code == "" {
		return "item entered an error state"
	}
	if body.Error.Message == "" {
		return body.Error.Code
	}
	return body.Error.Code + ": " + body.Error.Message
}
