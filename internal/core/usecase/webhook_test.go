package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
)

type webhookLogFake struct {
	mu     sync.Mutex
	events map[string]domain.WebhookEvent
	order  []string
}

func newWebhookLogFake() *webhookLogFake {
	return &webhookLogFake{events: make(map[string]domain.WebhookEvent)}
}

func (f *webhookLogFake) Append(_ context.Context, event *domain.WebhookEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[event.ID] = *event
	f.order = append(f.order, event.ID)
	return nil
}

func (f *webhookLogFake) MarkStatus(_ context.Context, id string, status domain.WebhookStatus, errMessage string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	event := f.events[id]
	event.Status = status
	event.Error = errMessage
	event.ProcessedAt = &at
	f.events[id] = event
	return nil
}

func (f *webhookLogFake) get(id string) domain.WebhookEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[id]
}

// jobSubmitterStore creates pending jobs in a jobRepoFake so FindActive sees them.
type jobSubmitterStore struct {
	jobs  *jobRepoFake
	mu    sync.Mutex
	count int
}

func (s *jobSubmitterStore) Create(ctx context.Context, input domain.JobInput) (string, error) {
	s.mu.Lock()
	s.count++
	id := fmt.Sprintf("sync-job-%d", s.count)
	s.mu.Unlock()
	return id, s.jobs.Create(ctx, &domain.ProcessingJob{
		ID:       id,
		SourceID: input.Source(),
		Type:     input.JobType(),
		State:    domain.JobPending,
	})
}

type webhookFixture struct {
	uc        *WebhookUseCase
	log       *webhookLogFake
	sources   *sourceRepoFake
	jobs      *jobRepoFake
	submitter *jobSubmitterStore
	alerts    *alertSinkFake
}

func newWebhookFixture(t *testing.T, secret string) *webhookFixture {
	t.Helper()
	f := &webhookFixture{
		log:     newWebhookLogFake(),
		sources: newSourceRepoFake(domain.DataSource{ID: "src-1", Name: "Checking", Kind: domain.SourceBankAggregator, Status: domain.SourceActive, ItemID: "item-1"}),
		jobs:    newJobRepoFake(),
		alerts:  &alertSinkFake{},
	}
	f.submitter = &jobSubmitterStore{jobs: f.jobs}
	trigger := NewSyncTrigger(f.sources, f.jobs, f.submitter)
	f.uc = NewWebhookUseCase(f.log, f.sources, trigger, f.alerts, secret)
	return f
}

func mustParseWebhook(t *testing.T, body string) domain.WebhookEvent {
	t.Helper()
	event, err := ParseWebhook([]byte(body))
	require.NoError(t, err)
	return event
}

func TestWebhookSyncUpdatesCreatesOneJobPerItem(t *testing.T) {
	f := newWebhookFixture(t, "")
	body := `{"webhook_type":"TRANSACTIONS","webhook_code":"SYNC_UPDATES_AVAILABLE","item_id":"item-1"}`

	first, err := f.uc.Receive(context.Background(), mustParseWebhook(t, body))
	require.NoError(t, err)
	require.True(t, first.Handled)
	require.NotEmpty(t, first.JobID)

	second, err := f.uc.Receive(context.Background(), mustParseWebhook(t, body))
	require.NoError(t, err)
	require.Equal(t, first.JobID, second.JobID)
	require.Equal(t, 1, f.submitter.count)

	logged := f.log.get(first.EventID)
	require.Equal(t, domain.WebhookProcessed, logged.Status)
	require.JSONEq(t, body, string(logged.Payload))
}

func TestWebhookConcurrentNotificationsAreCoalesced(t *testing.T) {
	f := newWebhookFixture(t, "")
	body := `{"webhook_type":"TRANSACTIONS","webhook_code":"DEFAULT_UPDATE","item_id":"item-1"}`

	event := mustParseWebhook(t, body)

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := f.uc.Receive(context.Background(), event)
			if err == nil {
				ids[i] = result.JobID
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, f.submitter.count)
	for _, id := range ids {
		require.Equal(t, ids[0], id)
	}
}

func TestWebhookUnhandledIsIgnored(t *testing.T) {
	f := newWebhookFixture(t, "")

	result, err := f.uc.Receive(context.Background(), mustParseWebhook(t, `{"webhook_type":"AUTH","webhook_code":"AUTOMATICALLY_VERIFIED","item_id":"item-1"}`))
	require.NoError(t, err)
	require.False(t, result.Handled)
	require.Equal(t, domain.WebhookIgnored, f.log.get(result.EventID).Status)
	require.Equal(t, 0, f.submitter.count)
}

func TestWebhookItemErrorMarksSourceAndAlerts(t *testing.T) {
	f := newWebhookFixture(t, "")
	body := `{"webhook_type":"ITEM","webhook_code":"ERROR","item_id":"item-1","error":{"error_code":"ITEM_LOGIN_REQUIRED","error_message":"credentials expired"}}`

	result, err := f.uc.Receive(context.Background(), mustParseWebhook(t, body))
	require.NoError(t, err)
	require.True(t, result.Handled)
	require.Equal(t, domain.SourceError, f.sources.status("src-1"))

	alerts := f.alerts.all()
	require.Len(t, alerts, 1)
	require.Equal(t, domain.SeverityHigh, alerts[0].Severity)
	require.Equal(t, "ITEM_LOGIN_REQUIRED: credentials expired", alerts[0].Description)
}

func TestWebhookUnknownItemIsLoggedAsFailed(t *testing.T) {
	f := newWebhookFixture(t, "")

	result, err := f.uc.Receive(context.Background(), mustParseWebhook(t, `{"webhook_type":"TRANSACTIONS","webhook_code":"DEFAULT_UPDATE","item_id":"nope"}`))
	require.True(t, domain.IsKind(err, domain.ErrNotFound))
	logged := f.log.get(result.EventID)
	require.Equal(t, domain.WebhookFailed, logged.Status)
	require.NotEmpty(t, logged.Error)
}

func TestWebhookSignatureIsVerifiedWhenSecretSet(t *testing.T) {
	f := newWebhookFixture(t, "s3cret")
	body := `{"webhook_type":"TRANSACTIONS","webhook_code":"DEFAULT_UPDATE","item_id":"item-1"}`

	unsigned := mustParseWebhook(t, body)
	_, err := f.uc.Receive(context.Background(), unsigned)
	require.True(t, domain.IsKind(err, domain.ErrUnauthorized))
	require.Empty(t, f.log.order)

	signed := mustParseWebhook(t, body)
	signed.Signature = SignWebhook([]byte("s3cret"), []byte(body))
	result, err := f.uc.Receive(context.Background(), signed)
	require.NoError(t, err)
	require.True(t, result.Handled)
}

func TestParseWebhookRequiresRoutingFields(t *testing.T) {
	_, err := ParseWebhook([]byte(`{"item_id":"item-1"}`))
	require.True(t, domain.IsKind(err, domain.ErrInvalidInput))

	_, err = ParseWebhook([]byte(`not json`))
	require.True(t, domain.IsKind(err, domain.ErrInvalidInput))
}

func TestTriggerAllSkipsInactiveSources(t *testing.T) {
	f := newWebhookFixture(t, "")
	f.sources.sources["src-2"] = domain.DataSource{ID: "src-2", Kind: domain.SourceBankAggregator, Status: domain.SourceInactive, ItemID: "item-2"}
	f.sources.sources["src-3"] = domain.DataSource{ID: "src-3", Kind: domain.SourceSpreadsheet, Status: domain.SourceActive}

	trigger := NewSyncTrigger(f.sources, f.jobs, f.submitter)
	n, err := trigger.TriggerAll(context.Background(), "schedule")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	active, err := f.jobs.FindActive(context.Background(), domain.JobSync, "src-1")
	require.NoError(t, err)
	require.NotNil(t, active)
}

func TestParseWebhookAcceptsGenericEnvelope(t *testing.T) {
	body := `{"sourceType":"TRANSACTIONS","eventCode":"SYNC_UPDATES_AVAILABLE","itemId":"item-1","payload":{"new_transactions":3}}`
	event := mustParseWebhook(t, body)
	require.Equal(t, "TRANSACTIONS", event.SourceType)
	require.Equal(t, "SYNC_UPDATES_AVAILABLE", event.EventCode)
	require.Equal(t, "item-1", event.ItemID)
	require.JSONEq(t, `{"new_transactions":3}`, string(event.Payload))
	require.Equal(t, body, string(event.Raw))

	f := newWebhookFixture(t, "")
	result, err := f.uc.Receive(context.Background(), event)
	require.NoError(t, err)
	require.True(t, result.Handled)
	require.Equal(t, 1, f.submitter.count)
}

func TestParseWebhookPrefersNativeEnvelope(t *testing.T) {
	event := mustParseWebhook(t, `{"webhook_type":"ITEM","webhook_code":"ERROR","item_id":"item-9","sourceType":"OTHER","eventCode":"X"}`)
	require.Equal(t, "ITEM", event.SourceType)
	require.Equal(t, "ERROR", event.EventCode)
	require.Equal(t, "item-9", event.ItemID)
}
