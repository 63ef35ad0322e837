package httpadapter

import (
	"encoding/json"
	"net/http"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
)

type createJobRequest struct {
	Type  domain.JobType  `json:"type"`
	Input json.RawMessage `json:"input"`
}

type jobAcceptedResponse struct {
	JobID   string          `json:"job_id"`
	State   domain.JobState `json:"state"`
	RetryOf string          `json:"retry_of,omitempty"`
}

func (rt *Router) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	input, err := domain.DecodeJobInput(req.Type, req.Input)
	if err != nil {
		writeError(w, r, err)
		return
	}

	jobID, err := rt.svc.Jobs.Create(r.Context(), input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	annotate(r, "job_id", jobID)
	writeJSON(w, http.StatusAccepted, jobAcceptedResponse{JobID: jobID, State: domain.JobPending})
}

func (rt *Router) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := rt.svc.Jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (rt *Router) retryJob(w http.ResponseWriter, r *http.Request) {
	failedID := r.PathValue("id")
	jobID, err := rt.svc.Jobs.CreateRetry(r.Context(), failedID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	annotate(r, "job_id", jobID)
	writeJSON(w, http.StatusAccepted, jobAcceptedResponse{JobID: jobID, State: domain.JobPending, RetryOf: failedID})
}
