// Package gemini extracts receipt fields from images with a Gemini vision model.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/genai"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
	"github.com/kirillkom/ledger-ingest/internal/core/ports"
	"github.com/kirillkom/ledger-ingest/internal/infrastructure/extraction"
	"github.com/kirillkom/ledger-ingest/internal/infrastructure/resilience"
)

const DefaultModel = "gemini-2.5-flash"

const receiptPrompt = "You read photos of purchase receipts.\n\n" +
	"Return STRICT JSON only, a single object with these fields:\n" +
	"- \"merchant_name\": string\n" +
	"- \"date\": string, ISO format \"YYYY-MM-DD\"\n" +
	"- \"total_amount\": number, the amount paid\n" +
	"- \"line_items\": array of {\"description\": string, \"amount\": number}\n" +
	"- \"suggested_category\": string, a short spending category such as \"Groceries\" or \"Coffee Shops\"\n" +
	"- \"confidence\": number between 0 and 1\n\n" +
	"If a field is unreadable use an empty string, 0 or an empty array.\n" +
	"Do NOT wrap the response in code fences.\n"

type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Client struct {
	models   generator
	model    string
	executor *resilience.Executor
	now      func() time.Time
}

type Options struct {
	APIKey             string
	Model              string
	ResilienceExecutor *resilience.Executor
}

func New(ctx context.Context, options Options) (*Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  options.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newWithGenerator(client.Models, options), nil
}

func newWithGenerator(models generator, options Options) *Client {
	model := options.Model
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		models:   models,
		model:    model,
		executor: options.ResilienceExecutor,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

var _ ports.ReceiptExtractor = (*Client)(nil)

// Extract fails when the model cannot be reached or rejects the request. Replies that do not
// parse become the fallback receipt.
func (c *Client) Extract(ctx context.Context, image domain.ReceiptImage) (domain.ExtractedReceipt, error) {
	if len(image.Data) == 0 {
		return domain.ExtractedReceipt{}, domain.WrapError(domain.ErrInvalidInput, "gemini extract", errors.New("receipt image is empty"))
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: receiptPrompt},
				{InlineData: &genai.Blob{MIMEType: image.MimeType, Data: image.Data}},
			},
		},
	}
	config := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}

	text, err := resilience.ExecuteValue(ctx, c.executor, "gemini.generate", func(ctx context.Context) (string, error) {
		resp, err := c.models.GenerateContent(ctx, c.model, contents, config)
		if err != nil {
			return "", fmt.Errorf("generate content: %w", err)
		}
		return resp.Text(), nil
	}, classifyGeminiError)
	if err != nil {
		return domain.ExtractedReceipt{}, wrapTemporaryIfNeeded(err)
	}
	return extraction.ParseReceiptJSON(text, c.now()), nil
}

func classifyGeminiError(err error) resilience.ErrorClassification {
	switch {
	case err == nil:
		return resilience.ErrorClassification{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}

	if code, ok := apiErrorCode(err); ok {
		if isRetryableStatus(code) {
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		}
		// Rejected request or credentials; the provider itself is healthy.
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	// Transport failures carry no status.
	return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
}

func apiErrorCode(err error) (int, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code, true
	}
	return 0, false
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func wrapTemporaryIfNeeded(err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if classifyGeminiError(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, "gemini extract", err)
	}
	return err
}
