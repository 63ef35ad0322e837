package gemini

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/genai"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
	"github.com/kirillkom/ledger-ingest/internal/infrastructure/resilience"
)

type fakeModels struct {
	reply    string
	err      error
	calls    int
	model    string
	mimeType string
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.calls++
	f.model = model
	f.mimeType = contents[0].Parts[1].InlineData.MIMEType
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Role: "model", Parts: []*genai.Part{{Text: f.reply}}}},
		},
	}, nil
}

func receiptImage() domain.ReceiptImage {
	return domain.ReceiptImage{Filename: "r.jpg", MimeType: "image/jpeg", Data: []byte{0xff, 0xd8}}
}

func TestExtractParsesModelReply(t *testing.T) {
	models := &fakeModels{reply: `{"merchant_name":"Starbucks","date":"2026-04-01","total_amount":5.45,"suggested_category":"Coffee Shops","confidence":0.9}`}
	client := newWithGenerator(models, Options{})

	got, err := client.Extract(context.Background(), receiptImage())
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got.MerchantName != "Starbucks" || !got.TotalAmount.Equal(decimal.RequireFromString("5.45")) {
		t.Fatalf("unexpected receipt: %+v", got)
	}
	if models.model != DefaultModel || models.mimeType != "image/jpeg" {
		t.Fatalf("unexpected request model=%s mime=%s", models.model, models.mimeType)
	}
}

func TestExtractUnreadableReplyFallsBack(t *testing.T) {
	client := newWithGenerator(&fakeModels{reply: "Sorry, the photo is blurry."}, Options{Model: "custom"})
	client.now = func() time.Time { return time.Date(2026, 4, 3, 8, 0, 0, 0, time.UTC) }

	got, err := client.Extract(context.Background(), receiptImage())
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !got.Fallback || got.Confidence != domain.FallbackConfidence {
		t.Fatalf("expected fallback receipt, got %+v", got)
	}
}

func TestExtractTransportFailureIsTemporary(t *testing.T) {
	cfg := resilience.ProviderPolicy(time.Second)
	cfg.RetryMaxAttempts = 2
	cfg.RetryInitialBackoff = time.Millisecond
	cfg.RetryMaxBackoff = time.Millisecond
	models := &fakeModels{err: errors.New("connection reset")}
	client := newWithGenerator(models, Options{ResilienceExecutor: resilience.NewExecutor(cfg)})

	_, err := client.Extract(context.Background(), receiptImage())
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
	if models.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", models.calls)
	}
}

func TestExtractRejectedRequestIsNotRetried(t *testing.T) {
	cfg := resilience.ProviderPolicy(time.Second)
	cfg.RetryMaxAttempts = 3
	cfg.RetryInitialBackoff = time.Millisecond
	cfg.RetryMaxBackoff = time.Millisecond
	models := &fakeModels{err: genai.APIError{Code: 403, Status: "403 Forbidden", Message: "API key not valid"}}
	client := newWithGenerator(models, Options{ResilienceExecutor: resilience.NewExecutor(cfg)})

	_, err := client.Extract(context.Background(), receiptImage())
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected a permanent error, got %v", err)
	}
	if models.calls != 1 {
		t.Fatalf("expected 1 attempt, got %d", models.calls)
	}
}

func TestClassifyGeminiErrorByStatus(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{name: "bad request", err: genai.APIError{Code: 400}, retryable: false},
		{name: "forbidden pointer", err: &genai.APIError{Code: 403}, retryable: false},
		{name: "rate limited", err: genai.APIError{Code: 429}, retryable: true},
		{name: "unavailable wrapped", err: fmt.Errorf("generate: %w", genai.APIError{Code: 503}), retryable: true},
		{name: "transport", err: errors.New("connection reset"), retryable: true},
		{name: "canceled", err: context.Canceled, retryable: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyGeminiError(tt.err)
			if got.Retryable != tt.retryable || got.RecordFailure != tt.retryable {
				t.Fatalf("classifyGeminiError(%v) = %+v", tt.err, got)
			}
		})
	}
}

func TestExtractRejectsEmptyImage(t *testing.T) {
	client := newWithGenerator(&fakeModels{}, Options{})
	_, err := client.Extract(context.Background(), domain.ReceiptImage{MimeType: "image/png"})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
