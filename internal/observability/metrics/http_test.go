package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/v1/jobs/123":               "/v1/jobs/{id}",
		"/v1/jobs/123/retry":         "/v1/jobs/{id}/retry",
		"/v1/sources/s-1/deactivate": "/v1/sources/{id}/deactivate",
		"/v1/alerts/a-9/resolve":     "/v1/alerts/{id}/resolve",
		"/v1/jobs":                   "/v1/jobs",
		"/v1/reconciliation":         "/v1/reconciliation",
		"/healthz":                   "/healthz",
	}
	for in, want := range cases {
		if got := normalizePath(in); got != want {
			t.Fatalf("normalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMiddlewareCountsByStatus(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	handler := m.Middleware("api", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/jobs/abc", nil))

	if got := testutil.ToFloat64(m.requestTotal.WithLabelValues("api", "GET", "/v1/jobs/{id}", "404")); got != 1 {
		t.Fatalf("expected one 404 sample, got %v", got)
	}
	if got := testutil.ToFloat64(m.requestInFlight); got != 0 {
		t.Fatalf("expected no in-flight requests, got %v", got)
	}
}

func TestRecordWebhook(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	m.RecordWebhook("api", "TRANSACTIONS", "processed")
	m.RecordWebhook("api", "", "ignored")

	if got := testutil.ToFloat64(m.webhooksTotal.WithLabelValues("api", "TRANSACTIONS", "processed")); got != 1 {
		t.Fatalf("expected one processed webhook, got %v", got)
	}
	if got := testutil.ToFloat64(m.webhooksTotal.WithLabelValues("api", "unknown", "ignored")); got != 1 {
		t.Fatalf("expected one unknown webhook, got %v", got)
	}
}
