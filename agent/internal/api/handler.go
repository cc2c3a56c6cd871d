package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/launchthat/openclaw-connector/agent/internal/connector"
	"github.com/launchthat/openclaw-connector/agent/internal/event"
	"github.com/launchthat/openclaw-connector/pkg/types"
)

// MaxBodyBytes bounds a POST /api/v1/events body.
const MaxBodyBytes = 4 << 20

// Tracker is the subset of *connector.Connector the API needs.
type Tracker interface {
	Enqueue(ctx context.Context, source string, raw []byte) (types.Event, error)
	Flush(ctx context.Context) error
	Status() connector.Status
}

// Handler is the HTTP handler for the local API.
type Handler struct {
	tracker Tracker
	mux     *http.ServeMux
}

// New creates a Handler for t and registers all routes.
func New(t Tracker) *Handler {
	h := &Handler{tracker: t, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/events", h.events)
	h.mux.HandleFunc("/api/v1/status", h.status)
	h.mux.HandleFunc("/api/v1/flush", h.flush)
	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.Handle("/metrics", promhttp.Handler())

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// events accepts one or more events, persists them in order and attempts a
// flush.
func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonErr(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		jsonErr(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	records, err := event.Records(raw)
	if err != nil {
		validationErr(w, err, 0)
		return
	}

	accepted := 0
	for _, rec := range records {
		if _, err := h.tracker.Enqueue(r.Context(), connector.SourceAPI, rec); err != nil {
			h.flushAccepted(r.Context(), accepted)
			if event.IsValidationError(err) {
				validationErr(w, err, accepted)
				return
			}
			slog.Error("api: enqueue failed", "accepted", accepted, "err", err)
			n := accepted
			jsonResp(w, http.StatusInternalServerError, errorResponse{Error: err.Error(), Accepted: &n})
			return
		}
		accepted++
	}
	h.flushAccepted(r.Context(), accepted)

	jsonResp(w, http.StatusAccepted, EventsResponse{
		Accepted:   accepted,
		QueueDepth: h.tracker.Status().QueueDepth,
	})
}

// flushAccepted attempts delivery of the records a request queued, including
// the prefix kept before a rejected record.
func (h *Handler) flushAccepted(ctx context.Context, accepted int) {
	if accepted == 0 {
		return
	}
	if err := h.tracker.Flush(ctx); err != nil {
		slog.Warn("api: flush failed, events stay queued", "accepted", accepted, "err", err)
	}
}

// status returns GET /api/v1/status.
func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.tracker.Status())
}

// flush runs POST /api/v1/flush synchronously.
func (h *Handler) flush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := h.tracker.Flush(r.Context()); err != nil {
		jsonResp(w, http.StatusBadGateway, FlushResponse{
			QueueDepth: h.tracker.Status().QueueDepth,
			Error:      err.Error(),
		})
		return
	}
	jsonResp(w, http.StatusOK, FlushResponse{QueueDepth: h.tracker.Status().QueueDepth})
}

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	st := h.tracker.Status()
	code := http.StatusOK
	if st.State != connector.StateRunning {
		code = http.StatusServiceUnavailable
	}
	jsonResp(w, code, HealthResponse{State: st.State, QueueDepth: st.QueueDepth})
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func validationErr(w http.ResponseWriter, err error, accepted int) {
	resp := errorResponse{Error: err.Error(), Accepted: &accepted}
	var ve *event.ValidationError
	if errors.As(err, &ve) {
		resp.Field = ve.Field
	}
	jsonResp(w, http.StatusUnprocessableEntity, resp)
}
