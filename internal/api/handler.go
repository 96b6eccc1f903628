// Package api provides the HTTP API handlers and routing for the classifier service.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"classifier/internal/apperrors"
	"classifier/internal/health"
	"classifier/internal/job"
	"classifier/internal/observability"
)

// maxRequestBodySize bounds uploads; the service applies its own tighter
// payload validation behind this.
const maxRequestBodySize = 12 << 20 // 12 MB

// Handler contains HTTP handlers for the classification jobs API
type Handler struct {
	svc     *job.Service
	metrics *observability.Metrics
	health  *health.Checker
}

// NewHandler creates a new API handler
func NewHandler(svc *job.Service, metrics *observability.Metrics, healthChecker *health.Checker) *Handler {
	return &Handler{
		svc:     svc,
		metrics: metrics,
		health:  healthChecker,
	}
}

// Root handles GET / with a service banner.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Image Classification API"})
}

// SubmitJob handles POST /v1/jobs
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	payload, err := readPayload(w, r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	resp, err := h.svc.Submit(r.Context(), payload)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, resp)
}

// GetJob handles GET /v1/jobs/{jobId}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	snapshot, err := h.svc.Get(r.Context(), jobID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, snapshot)
}

// RetryJob handles POST /v1/jobs/{jobId}/retry
func (h *Handler) RetryJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	payload, err := readPayload(w, r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	resp, err := h.svc.Retry(r.Context(), jobID, payload)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, resp)
}

// StreamJob handles GET /v1/jobs/{jobId}/events - live status over SSE.
// The stream carries every observed transition, ends after the terminal
// one, and is torn down the moment the client disconnects.
func (h *Handler) StreamJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Streaming is not supported")
		return
	}

	updates, err := h.svc.Watch(r.Context(), jobID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordStreamOpened(r.Context())
		defer h.metrics.RecordStreamClosed(r.Context())
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for update := range updates {
		if update.Err != nil {
			// Same masking as handleError: diagnostics stay in the
			// logs, the client sees a generic message for 500-class
			// failures.
			message := update.Err.Error()
			if apperrors.HTTPStatus(update.Err) >= 500 {
				slog.Error("Stream ended with internal error", "error", update.Err, "jobId", jobID)
				message = "Internal server error"
			}
			writeSSE(w, "error", map[string]string{"error": message})
			flusher.Flush()
			return
		}
		writeSSE(w, "status", update.Snapshot)
		flusher.Flush()
	}
}

// writeSSE writes one Server-Sent Event with a JSON data payload.
func writeSSE(w io.Writer, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		slog.Error("Failed to encode stream event", "error", err)
		return
	}
	io.WriteString(w, "event: "+event+"\n")
	io.WriteString(w, "data: "+string(payload)+"\n\n")
}

// readPayload extracts the image bytes from a request: the "file" field of
// a multipart form, or the raw body otherwise.
func readPayload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err == nil && strings.HasPrefix(mediaType, "multipart/") {
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, errors.New("multipart form must carry a 'file' field")
		}
		defer file.Close()
		return io.ReadAll(file)
	}

	return io.ReadAll(r.Body)
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	h.writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 200 if the service is ready to accept traffic.
// Returns 503 if the coordination store is unavailable.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// handleError handles errors from service layer with appropriate HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		// Diagnostics stay in the logs; the client sees a generic message.
		slog.Error("Internal error", "error", err, "path", r.URL.Path)
		h.writeError(w, status, "Internal server error")
		return
	}
	slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	h.writeError(w, status, err.Error())
}
