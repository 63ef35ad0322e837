package aggregator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
	"github.com/kirillkom/ledger-ingest/internal/infrastructure/resilience"
)

func TestFetchFullRangeSendsWindowAndFlipsSign(t *testing.T) {
	var captured getRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transactions/get" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"transactions":[
			{"transaction_id":"t1","account_id":"acc-1","amount":4.33,"date":"2026-04-02","name":"SQ *BLUE BOTTLE","merchant_name":"Blue Bottle"},
			{"transaction_id":"t2","account_id":"acc-1","amount":-1200,"date":"2026-04-01","name":"PAYROLL"}
		],"total_transactions":2}`))
	}))
	defer server.Close()

	client := New(server.URL, Options{ClientID: "cid", Secret: "sec"})
	start := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	page, err := client.FetchFullRange(context.Background(), "item-1", start, end, 500, 500)
	if err != nil {
		t.Fatalf("FetchFullRange() error = %v", err)
	}

	if captured.ItemID != "item-1" || captured.StartDate != "2024-04-01" || captured.EndDate != "2026-04-01" {
		t.Fatalf("unexpected request: %+v", captured)
	}
	if captured.Options.Offset != 500 || captured.Options.Count != 500 {
		t.Fatalf("unexpected paging options: %+v", captured.Options)
	}
	if len(page.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(page.Records))
	}
	if page.Records[0].Amount != "-4.33" || page.Records[0].Description != "Blue Bottle" {
		t.Fatalf("unexpected first record: %+v", page.Records[0])
	}
	if page.Records[1].Amount != "1200" || page.Records[1].Description != "PAYROLL" {
		t.Fatalf("unexpected second record: %+v", page.Records[1])
	}
}

func TestFetchIncrementalMapsPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req syncRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Cursor != "c0" {
			t.Fatalf("expected cursor c0, got %q", req.Cursor)
		}
		_, _ = w.Write([]byte(`{"added":[{"transaction_id":"t3","amount":10,"date":"2026-04-03","name":"Lunch","pending":true}],
			"modified":[],"removed":[{"transaction_id":"t1"}],"next_cursor":"c1","has_more":true}`))
	}))
	defer server.Close()

	page, err := New(server.URL, Options{}).FetchIncremental(context.Background(), "item-1", "c0", 100)
	if err != nil {
		t.Fatalf("FetchIncremental() error = %v", err)
	}
	if len(page.Added) != 1 || !page.Added[0].Pending {
		t.Fatalf("unexpected added: %+v", page.Added)
	}
	if len(page.Removed) != 1 || page.Removed[0] != "t1" {
		t.Fatalf("unexpected removed: %v", page.Removed)
	}
	if page.NextCursor != "c1" || !page.HasMore {
		t.Fatalf("unexpected cursor state: %+v", page)
	}
}

func TestRetryableStatusBecomesTemporary(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	exec := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		BreakerEnabled:      false,
	})
	_, err := New(server.URL, Options{ResilienceExecutor: exec}).FetchIncremental(context.Background(), "item-1", "c0", 10)
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	if !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected response body in error, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestNotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "item not found", http.StatusNotFound)
	}))
	defer server.Close()

	exec := resilience.NewExecutor(resilience.Config{RetryMaxAttempts: 3, BreakerEnabled: false})
	_, err := New(server.URL, Options{ResilienceExecutor: exec}).FetchIncremental(context.Background(), "item-x", "", 10)
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 attempt, got %d", calls.Load())
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		value string
		want  time.Duration
	}{
		{value: "", want: 0},
		{value: "3", want: 3 * time.Second},
		{value: "-1", want: 0},
		{value: now.Add(90 * time.Second).Format(http.TimeFormat), want: 90 * time.Second},
		{value: now.Add(-time.Minute).Format(http.TimeFormat), want: 0},
		{value: "soon", want: 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.value, now); got != tt.want {
			t.Fatalf("parseRetryAfter(%q) = %s, want %s", tt.value, got, tt.want)
		}
	}
}

func TestRateLimitCarriesRetryAfterAndSparesBreaker(t *testing.T) {
	err := &HTTPStatusError{Operation: "sync", StatusCode: http.StatusTooManyRequests, Status: "429 Too Many Requests", RetryAfter: 2 * time.Second}
	class := classifyAggregatorError(err)
	if !class.Retryable || class.RecordFailure || class.RetryAfter != 2*time.Second {
		t.Fatalf("unexpected classification %+v", class)
	}

	outage := classifyAggregatorError(&HTTPStatusError{StatusCode: http.StatusServiceUnavailable})
	if !outage.Retryable || !outage.RecordFailure {
		t.Fatalf("503 should count against the breaker: %+v", outage)
	}
}
