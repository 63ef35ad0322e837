package httpadapter

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/getkin/kin-openapi/routers"

	"github.com/kirillkom/ledger-ingest/internal/config"
	"github.com/kirillkom/ledger-ingest/internal/core/ports"
	"github.com/kirillkom/ledger-ingest/internal/observability/metrics"
)

const serviceName = "api"

// Services groups the inbound ports the API exposes.
type Services struct {
	Jobs       ports.JobService
	Sources    ports.SourceService
	Uploads    ports.UploadService
	Alerts     ports.AlertFeed
	Webhooks   ports.WebhookReceiver
	Reconciler ports.Reconciler
}

type Router struct {
	svc     Services
	metrics *metrics.HTTPServerMetrics
	openAPI routers.Router

	rateLimitRPS   float64
	rateLimitBurst int
	maxInFlight    int64
	queueWait      time.Duration
	maxUploadBytes int64
}

func NewRouter(cfg config.Config, svc Services) (*Router, error) {
	openAPI, err := loadOpenAPIRouter()
	if err != nil {
		return nil, err
	}
	maxUpload := cfg.APIMaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 20 << 20
	}
	return &Router{
		svc:            svc,
		openAPI:        openAPI,
		rateLimitRPS:   cfg.APIRateLimitRPS,
		rateLimitBurst: cfg.APIRateLimitBurst,
		maxInFlight:    int64(cfg.APIMaxInFlight),
		queueWait:      cfg.APIQueueWait,
		maxUploadBytes: maxUpload,
	}, nil
}

// WithMetrics enables /metrics and per-request instrumentation.
func (rt *Router) WithMetrics(m *metrics.HTTPServerMetrics) *Router {
	rt.metrics = m
	return rt
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", route("", rt.healthz))
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	mux.HandleFunc("POST /v1/jobs", route("", rt.createJob))
	mux.HandleFunc("GET /v1/jobs/{id}", route("job_id", rt.getJob))
	mux.HandleFunc("POST /v1/jobs/{id}/retry", route("retry_of", rt.retryJob))

	mux.HandleFunc("POST /v1/imports", route("", rt.uploadImport))
	mux.HandleFunc("POST /v1/receipts", route("", rt.uploadReceipt))
	mux.HandleFunc("POST /v1/webhooks", route("", rt.receiveWebhook))

	mux.HandleFunc("GET /v1/alerts", route("", rt.listAlerts))
	mux.HandleFunc("POST /v1/alerts/{id}/resolve", route("alert_id", rt.resolveAlert))

	mux.HandleFunc("POST /v1/sources", route("", rt.registerSource))
	mux.HandleFunc("GET /v1/sources", route("", rt.listSources))
	mux.HandleFunc("GET /v1/sources/{id}", route("source_id", rt.getSource))
	mux.HandleFunc("POST /v1/sources/{id}/deactivate", route("source_id", rt.deactivateSource))

	mux.HandleFunc("GET /v1/reconciliation", route("", rt.reconcile))

	var handler http.Handler = mux
	handler = openAPIValidationMiddleware(handler, rt.openAPI)
	handler = backpressureMiddleware(handler, rt.maxInFlight, rt.queueWait)
	handler = rateLimitMiddleware(handler, rt.rateLimitRPS, rt.rateLimitBurst)
	handler = secureHeadersMiddleware(handler)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}
