package httpadapter

import (
	"net/http"

	"github.com/oapi-codegen/runtime"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
)

type registerSourceRequest struct {
	Name   string            `json:"name"`
	Kind   domain.SourceKind `json:"kind"`
	ItemID string            `json:"item_id"`
}

func (rt *Router) registerSource(w http.ResponseWriter, r *http.Request) {
	var req registerSourceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	source, err := rt.svc.Sources.Register(r.Context(), req.Name, req.Kind, req.ItemID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, source)
}

func (rt *Router) listSources(w http.ResponseWriter, r *http.Request) {
	sources, err := rt.svc.Sources.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sources == nil {
		sources = []domain.DataSource{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

func (rt *Router) getSource(w http.ResponseWriter, r *http.Request) {
	source, err := rt.svc.Sources.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, source)
}

func (rt *Router) deactivateSource(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := rt.svc.Sources.Deactivate(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(domain.SourceInactive)})
}

func (rt *Router) listAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := rt.svc.Alerts.ListActive(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []domain.WatchdogAlert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (rt *Router) resolveAlert(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := rt.svc.Alerts.Resolve(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "resolved": true})
}

func (rt *Router) reconcile(w http.ResponseWriter, r *http.Request) {
	var accountID, rawPeriod string
	query := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, true, "account_id", query, &accountID); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := runtime.BindQueryParameter("form", true, true, "period", query, &rawPeriod); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	period, err := domain.ParsePeriod(rawPeriod)
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := rt.svc.Reconciler.Reconcile(r.Context(), accountID, period)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
