package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
	"github.com/kirillkom/ledger-ingest/internal/core/ports"
)

// JobMetrics is the worker's registry: job lifecycle, sync volume and alerts.
type JobMetrics struct {
	registry *prometheus.Registry
	service  string

	jobsTotal    *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	jobsInFlight prometheus.Gauge
	queueLag     *prometheus.HistogramVec
	syncRecords  *prometheus.CounterVec
	alertsRaised *prometheus.CounterVec
}

func NewJobMetrics(service string) *JobMetrics {
	registry := prometheus.NewRegistry()

	jobsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: "worker",
			Name:      "jobs_total",
			Help:      "Jobs that reached a terminal state, by type and state.",
		},
		[]string{"service", "type", "state"},
	)
	jobDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ledger",
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "Handler run time in seconds by type and terminal state.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"service", "type", "state"},
	)
	jobsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ledger",
			Subsystem: "worker",
			Name:      "jobs_in_flight",
			Help:      "Number of jobs currently processing in this worker.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ledger",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between job creation and processing start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service", "type"},
	)
	syncRecords := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: "sync",
			Name:      "records_fetched_total",
			Help:      "Records fetched from the aggregator by sync mode.",
		},
		[]string{"service", "mode"},
	)
	alertsRaised := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: "watchdog",
			Name:      "alerts_raised_total",
			Help:      "Watchdog alerts raised by severity.",
		},
		[]string{"service", "severity"},
	)

	registry.MustRegister(jobsTotal, jobDuration, jobsInFlight, queueLag, syncRecords, alertsRaised)

	return &JobMetrics{
		registry:     registry,
		service:      service,
		jobsTotal:    jobsTotal,
		jobDuration:  jobDuration,
		jobsInFlight: jobsInFlight,
		queueLag:     queueLag,
		syncRecords:  syncRecords,
		alertsRaised: alertsRaised,
	}
}

var _ ports.JobObserver = (*JobMetrics)(nil)

func (m *JobMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *JobMetrics) JobStarted(jobType domain.JobType, queuedFor time.Duration) {
	m.jobsInFlight.Inc()
	if queuedFor >= 0 {
		m.queueLag.WithLabelValues(m.service, string(jobType)).Observe(queuedFor.Seconds())
	}
}

func (m *JobMetrics) JobFinished(jobType domain.JobType, state domain.JobState, duration time.Duration) {
	m.jobsInFlight.Dec()
	m.jobsTotal.WithLabelValues(m.service, string(jobType), string(state)).Inc()
	m.jobDuration.WithLabelValues(m.service, string(jobType), string(state)).Observe(duration.Seconds())
}

func (m *JobMetrics) RecordSync(mode domain.SyncMode, records int) {
	if records <= 0 {
		return
	}
	m.syncRecords.WithLabelValues(m.service, string(mode)).Add(float64(records))
}

func (m *JobMetrics) AlertRaised(severity domain.Severity) {
	m.alertsRaised.WithLabelValues(m.service, string(severity)).Inc()
}
