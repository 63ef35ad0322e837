package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
)

func TestJobMetricsTracksLifecycle(t *testing.T) {
	m := NewJobMetrics("worker")

	m.JobStarted(domain.JobImport, 2*time.Second)
	if got := testutil.ToFloat64(m.jobsInFlight); got != 1 {
		t.Fatalf("expected 1 in flight, got %v", got)
	}
	m.JobFinished(domain.JobImport, domain.JobCompleted, time.Second)
	if got := testutil.ToFloat64(m.jobsInFlight); got != 0 {
		t.Fatalf("expected 0 in flight, got %v", got)
	}
	if got := testutil.ToFloat64(m.jobsTotal.WithLabelValues("worker", "import", "completed")); got != 1 {
		t.Fatalf("expected one completed import, got %v", got)
	}

	m.RecordSync(domain.SyncIncremental, 25)
	m.RecordSync(domain.SyncIncremental, 0)
	if got := testutil.ToFloat64(m.syncRecords.WithLabelValues("worker", "incremental")); got != 25 {
		t.Fatalf("expected 25 synced records, got %v", got)
	}

	m.AlertRaised(domain.SeverityHigh)
	if got := testutil.ToFloat64(m.alertsRaised.WithLabelValues("worker", "high")); got != 1 {
		t.Fatalf("expected one high alert, got %v", got)
	}
}

func TestJobMetricsHandlerExposesRegistry(t *testing.T) {
	m := NewJobMetrics("worker")
	m.JobStarted(domain.JobSync, 0)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "ledger_worker_jobs_in_flight") {
		t.Fatalf("expected job gauge in output, got:\n%s", rec.Body.String())
	}
}
