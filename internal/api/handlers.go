package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lei/cross-ci/internal/models"
	"github.com/lei/cross-ci/internal/service"
)

// Handlers contains HTTP handler functions
type Handlers struct {
	service *service.Service
}

// NewHandlers creates a new handlers instance
func NewHandlers(svc *service.Service) *Handlers {
	return &Handlers{service: svc}
}

// Health handles health check requests
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := h.service.HealthCheck(r.Context())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// SubmitEvent handles POST /v1/events: the version-control webhook
// ingest. A qualifying event starts a run; a non-qualifying one is
// acknowledged as ignored, which is a no-op rather than an error.
func (h *Handlers) SubmitEvent(w http.ResponseWriter, r *http.Request) {
	log := GetLogger(r.Context())

	var ev models.TriggerEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		if log != nil {
			log.Warn("invalid event payload", "error", err)
		}
		respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if !ev.Kind.Valid() {
		respondError(w, r, http.StatusBadRequest, fmt.Sprintf("unknown event kind %q", ev.Kind))
		return
	}
	if ev.Branch == "" {
		respondError(w, r, http.StatusBadRequest, "missing target branch")
		return
	}

	run, started := h.service.Submit(r.Context(), ev)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if !started {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ignored": true,
			"reason":  "event does not target the designated branch",
		})
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"run": run,
	})
}

// ListRuns handles GET /v1/runs
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs := h.service.ListRuns(r.Context())

	q := r.URL.Query()
	runs = FilterRuns(runs,
		q.Get("branch"),
		parseResultParam(q.Get("result")),
		parseArchParam(q.Get("architecture")))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"runs": runs,
	})
}

// GetRun handles GET /v1/runs/{run_id}
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")

	run, err := h.service.GetRun(r.Context(), runID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"run": run,
	})
}

// CancelRun handles POST /v1/runs/{run_id}/cancel
func (h *Handlers) CancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")

	if err := h.service.CancelRun(r.Context(), runID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// StreamEvents handles GET /v1/runs/{run_id}/events: an SSE stream of
// job status changes, closing once the run reaches its terminal state.
func (h *Handlers) StreamEvents(w http.ResponseWriter, r *http.Request) {
	log := GetLogger(r.Context())
	runID := chi.URLParam(r, "run_id")

	if _, err := h.service.GetRun(r.Context(), runID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, r, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// The server's write timeout would sever the stream before a real
	// build settles; clear the deadline for this connection.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && log != nil {
		log.Debug("could not clear write deadline", "error", err)
	}

	requestID := GetRequestID(r.Context())
	fmt.Fprintf(w, "event: connected\ndata: {\"request_id\":%q}\n\n", requestID)
	flusher.Flush()

	enc := json.NewEncoder(w)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var last string
	for {
		run, err := h.service.GetRun(r.Context(), runID)
		if err != nil {
			fmt.Fprintf(w, "event: error\ndata: {\"message\":\"run disappeared\"}\n\n")
			flusher.Flush()
			return
		}

		// Only emit when the visible state changed.
		snapshot, _ := json.Marshal(run)
		if string(snapshot) != last {
			last = string(snapshot)
			fmt.Fprint(w, "event: status\ndata: ")
			enc.Encode(run)
			fmt.Fprint(w, "\n")
			flusher.Flush()
		}

		if run.State == models.StateDone {
			fmt.Fprintf(w, "event: done\ndata: {\"result\":%q}\n\n", run.Result)
			flusher.Flush()
			if log != nil {
				log.Info("event stream completed", "run_id", runID, "result", run.Result)
			}
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// handleServiceError maps service errors to HTTP status codes
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrRunNotFound):
		respondError(w, r, http.StatusNotFound, "run not found")
	default:
		respondError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// respondError writes a JSON error response with logging
func respondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	log := GetLogger(r.Context())
	requestID := GetRequestID(r.Context())

	if log != nil {
		log.Error("returning error response",
			"status", status,
			"message", message)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"message":    message,
			"code":       status,
			"request_id": requestID,
		},
	})
}
