package httpadapter

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-Id"

type (
	requestIDContextKey struct{}
	accessEntryKey      struct{}
)

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	requestID, _ := ctx.Value(requestIDContextKey{}).(string)
	return requestID
}

// requestIDMiddleware reuses the caller's X-Request-Id or mints one, and
// echoes it on the response.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDContextKey{}, requestID)))
	})
}

// accessEntry is shared between the access log and the handler so routes can
// attach the job, source or alert they touched. Inner middleware copies the
// request, so the pointer travels in the context.
type accessEntry struct {
	mu    sync.Mutex
	route string
	attrs []any
}

func (e *accessEntry) add(key, value string) {
	e.mu.Lock()
	e.attrs = append(e.attrs, key, value)
	e.mu.Unlock()
}

// annotate adds key=value to this request's access log line.
func annotate(r *http.Request, key, value string) {
	if value == "" {
		return
	}
	if entry, ok := r.Context().Value(accessEntryKey{}).(*accessEntry); ok {
		entry.add(key, value)
	}
}

// route tags the access log with the matched pattern and, when idAttr is
// non-empty, the {id} path value under that name.
func route(idAttr string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if entry, ok := r.Context().Value(accessEntryKey{}).(*accessEntry); ok {
			entry.mu.Lock()
			entry.route = r.Pattern
			entry.mu.Unlock()
		}
		if idAttr != "" {
			annotate(r, idAttr, r.PathValue("id"))
		}
		h(w, r)
	}
}

func accessLogLevel(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

func accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		entry := &accessEntry{}
		recorder := &responseRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r.WithContext(context.WithValue(r.Context(), accessEntryKey{}, entry)))

		entry.mu.Lock()
		routePattern := entry.route
		if routePattern == "" {
			routePattern = "unmatched"
		}
		attrs := append([]any{
			"request_id", requestIDFromContext(r.Context()),
			"method", r.Method,
			"route", routePattern,
			"path", r.URL.Path,
			"status", recorder.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"bytes", recorder.bytes,
		}, entry.attrs...)
		entry.mu.Unlock()

		slog.Log(r.Context(), accessLogLevel(recorder.status), "http_request", attrs...)
	})
}

type responseRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (w *responseRecorder) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseRecorder) Write(b []byte) (int, error) {
	w.wroteHeader = true
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *responseRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
