package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"ai-call-orchestrator-service/internal/app"
	"ai-call-orchestrator-service/internal/models"
	"ai-call-orchestrator-service/internal/service/call"
	"ai-call-orchestrator-service/internal/service/orchestrator"
	"ai-call-orchestrator-service/internal/service/telephony/twilio"
)

// Calls is the read and terminate surface of the orchestrator used by the
// admin endpoints.
type Calls interface {
	Live() []call.View
	Snapshot(callID string) (call.View, bool)
	EndSession(callID, reason string) (models.Stats, error)
}

// Options are the handlers mounted next to the admin API. Nil handlers are
// not mounted.
type Options struct {
	Calls   Calls
	Media   http.Handler
	Metrics http.Handler
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if application != nil && !application.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}
	if opts.Media != nil {
		r.Get(twilio.MediaPath, opts.Media.ServeHTTP)
	}

	if opts.Calls != nil {
		h := &callsHandler{calls: opts.Calls}
		r.Route("/v1/calls", func(r chi.Router) {
			r.Get("/", h.list)
			r.Get("/{callId}", h.get)
			r.Post("/{callId}/end", h.end)
		})
	}

	return r
}

type callsHandler struct {
	calls Calls
}

func (h *callsHandler) list(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"calls": h.calls.Live()})
}

func (h *callsHandler) get(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callId")
	v, ok := h.calls.Snapshot(callID)
	if !ok {
		writeError(w, http.StatusNotFound, "call not live")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type endRequest struct {
	Reason string `json:"reason"`
}

func (h *callsHandler) end(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callId")

	var req endRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "admin_request"
	}

	stats, err := h.calls.EndSession(callID, req.Reason)
	if errors.Is(err, orchestrator.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("callId", callID).Msg("Admin end session failed")
		writeError(w, http.StatusInternalServerError, "end failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
