package httpadapter

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
	"github.com/kirillkom/ledger-ingest/internal/core/ports"
	"github.com/kirillkom/ledger-ingest/internal/core/usecase"
)

const (
	webhookSignatureHeader = "X-Webhook-Signature"
	maxWebhookBytes        = 1 << 20
)

func (rt *Router) uploadImport(w http.ResponseWriter, r *http.Request) {
	req, closeFile, ok := rt.readUpload(w, r)
	if !ok {
		return
	}
	defer closeFile()

	jobID, err := rt.svc.Uploads.UploadImport(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	annotate(r, "job_id", jobID)
	writeJSON(w, http.StatusAccepted, jobAcceptedResponse{JobID: jobID, State: domain.JobPending})
}

func (rt *Router) uploadReceipt(w http.ResponseWriter, r *http.Request) {
	req, closeFile, ok := rt.readUpload(w, r)
	if !ok {
		return
	}
	defer closeFile()

	jobID, err := rt.svc.Uploads.UploadReceipt(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	annotate(r, "job_id", jobID)
	writeJSON(w, http.StatusAccepted, jobAcceptedResponse{JobID: jobID, State: domain.JobPending})
}

// readUpload parses the multipart form: field "file" plus source_id and account_id.
func (rt *Router) readUpload(w http.ResponseWriter, r *http.Request) (ports.UploadRequest, func(), bool) {
	r.Body = http.MaxBytesReader(w, r.Body, rt.maxUploadBytes)

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "upload is too large"})
			return ports.UploadRequest{}, nil, false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return ports.UploadRequest{}, nil, false
	}

	mimeType := fileHeader.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	req := ports.UploadRequest{
		SourceID:  strings.TrimSpace(r.FormValue("source_id")),
		AccountID: strings.TrimSpace(r.FormValue("account_id")),
		Filename:  fileHeader.Filename,
		MimeType:  mimeType,
		Body:      file,
	}
	return req, func() { _ = file.Close() }, true
}

func (rt *Router) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	event, err := usecase.ParseWebhook(raw)
	if err != nil {
		rt.recordWebhook("", "rejected")
		writeError(w, r, err)
		return
	}
	event.Signature = r.Header.Get(webhookSignatureHeader)
	annotate(r, "webhook_source", event.SourceType)
	annotate(r, "webhook_event", event.EventCode)

	result, err := rt.svc.Webhooks.Receive(r.Context(), event)
	if err != nil {
		status := "failed"
		if domain.IsKind(err, domain.ErrUnauthorized) {
			status = "rejected"
		}
		rt.recordWebhook(event.SourceType, status)
		writeError(w, r, err)
		return
	}

	status := "ignored"
	if result.Handled {
		status = "handled"
	}
	rt.recordWebhook(event.SourceType, status)
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) recordWebhook(sourceType, status string) {
	if rt.metrics == nil {
		return
	}
	if sourceType == "" {
		sourceType = "unknown"
	}
	rt.metrics.RecordWebhook(serviceName, sourceType, status)
}
