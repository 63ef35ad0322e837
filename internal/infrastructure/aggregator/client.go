package aggregator

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
	"github.com/kirillkom/ledger-ingest/internal/core/ports"
	"github.com/kirillkom/ledger-ingest/internal/infrastructure/resilience"
)

// Client talks to the bank aggregator's transactions API.
type Client struct {
	baseURL    string
	clientID   string
	secret     string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	ClientID           string
	Secret             string
	HTTPTimeout        time.Duration
	ResilienceExecutor *resilience.Executor
}

func New(baseURL string, options Options) *Client {
	timeout := options.HTTPTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		clientID:   options.ClientID,
		secret:     options.Secret,
		httpClient: &http.Client{Timeout: timeout},
		executor:   options.ResilienceExecutor,
	}
}

var _ ports.SourceClient = (*Client)(nil)

type wireTransaction struct {
	TransactionID string      `json:"transaction_id"`
	AccountID     string      `json:"account_id"`
	Amount        json.Number `json:"amount"`
	Date          string      `json:"date"`
	Name          string      `json:"name"`
	MerchantName  string      `json:"merchant_name"`
	Pending       bool        `json:"pending"`
}

type removedTransaction struct {
	TransactionID string `json:"transaction_id"`
}

type getRequest struct {
	ClientID  string     `json:"client_id,omitempty"`
	Secret    string     `json:"secret,omitempty"`
	ItemID    string     `json:"item_id"`
	StartDate string     `json:"start_date"`
	EndDate   string     `json:"end_date"`
	Options   getOptions `json:"options"`
}

type getOptions struct {
	Offset int `json:"offset"`
	Count  int `json:"count"`
}

type getResponse struct {
	Transactions      []wireTransaction `json:"transactions"`
	TotalTransactions int               `json:"total_transactions"`
	NextCursor        string            `json:"next_cursor"`
}

type syncRequest struct {
	ClientID string `json:"client_id,omitempty"`
	Secret   string `json:"secret,omitempty"`
	ItemID   string `json:"item_id"`
	Cursor   string `json:"cursor,omitempty"`
	Count    int    `json:"count"`
}

type syncResponse struct {
	Added      []wireTransaction    `json:"added"`
	Modified   []wireTransaction    `json:"modified"`
	Removed    []removedTransaction `json:"removed"`
	NextCursor string               `json:"next_cursor"`
	HasMore    bool                 `json:"has_more"`
}

func (c *Client) FetchFullRange(ctx context.Context, itemID string, start, end time.Time, offset, count int) (ports.FullRangePage, error) {
	request := getRequest{
		ClientID:  c.clientID,
		Secret:    c.secret,
		ItemID:    itemID,
		StartDate: start.UTC().Format("2006-01-02"),
		EndDate:   end.UTC().Format("2006-01-02"),
		Options:   getOptions{Offset: offset, Count: count},
	}

	var response getResponse
	if err := c.call(ctx, "/transactions/get", request, &response, "transactions_get"); err != nil {
		return ports.FullRangePage{}, err
	}
	return ports.FullRangePage{
		Records: toRawRecords(response.Transactions),
		Cursor:  response.NextCursor,
	}, nil
}

func (c *Client) FetchIncremental(ctx context.Context, itemID, cursor string, count int) (ports.IncrementalPage, error) {
	request := syncRequest{
		ClientID: c.clientID,
		Secret:   c.secret,
		ItemID:   itemID,
		Cursor:   cursor,
		Count:    count,
	}

	var response syncResponse
	if err := c.call(ctx, "/transactions/sync", request, &response, "transactions_sync"); err != nil {
		return ports.IncrementalPage{}, err
	}

	removed := make([]string, 0, len(response.Removed))
	for _, r := range response.Removed {
		removed = append(removed, r.TransactionID)
	}
	return ports.IncrementalPage{
		Added:      toRawRecords(response.Added),
		Modified:   toRawRecords(response.Modified),
		Removed:    removed,
		NextCursor: response.NextCursor,
		HasMore:    response.HasMore,
	}, nil
}

func (c *Client) call(ctx context.Context, path string, payload, out any, operation string) error {
	call := func(ctx context.Context) error {
		return c.postJSON(ctx, path, payload, out, operation)
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "aggregator."+operation, call, classifyAggregatorError)
	} else {
		err = call(ctx)
	}
	return wrapTemporaryIfNeeded(operation, err)
}

func toRawRecords(txns []wireTransaction) []domain.RawRecord {
	records := make([]domain.RawRecord, 0, len(txns))
	for _, t := range txns {
		description := strings.TrimSpace(t.MerchantName)
		if description == "" {
			description = strings.TrimSpace(t.Name)
		}
		records = append(records, domain.RawRecord{
			ExternalID:  t.TransactionID,
			AccountID:   t.AccountID,
			Amount:      ledgerAmount(t.Amount),
			Date:        domain.RawValue(t.Date),
			Description: description,
			Pending:     t.Pending,
		})
	}
	return records
}

// ledgerAmount flips the provider sign convention (positive = money out) to
// the ledger's (negative = money out). Non-numeric values pass through so
// normalization reports them per record.
func ledgerAmount(raw json.Number) domain.RawValue {
	amount, err := decimal.NewFromString(raw.String())
	if err != nil {
		return domain.RawValue(raw.String())
	}
	return domain.RawValue(amount.Neg().String())
}
