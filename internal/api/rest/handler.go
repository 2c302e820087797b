// Package rest serves the JSON HTTP endpoints used by the web client.
package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/demoday/internal/app/admission"
	"github.com/osa030/demoday/internal/app/session"
	"github.com/osa030/demoday/internal/domain/slot"
)

// RetryAfterSeconds is advertised to clients whose request timed out in the queue.
const RetryAfterSeconds = 5

// SessionManager is the application surface used by the handlers.
type SessionManager interface {
	Acquire(ctx context.Context, typ slot.Type) (*session.Grant, error)
	Release(slotID string) bool
	Status() admission.Status
}

// Handler serves the session endpoints.
type Handler struct {
	session SessionManager
}

// NewHandler creates a new Handler.
func NewHandler(session SessionManager) *Handler {
	return &Handler{session: session}
}

type sessionResponse struct {
	AnamSessionToken  string `json:"anamSessionToken"`
	ElevenLabsAgentID string `json:"elevenLabsAgentId"`
	QueueSessionID    string `json:"queueSessionId"`
}

type releaseRequest struct {
	SessionID string `json:"sessionId"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Routes returns a router with the session endpoints, to be mounted under /api.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	for _, typ := range []slot.Type{slot.TypePitch, slot.TypeFeedback} {
		r.Get("/"+string(typ), h.acquire(typ))
		r.Delete("/"+string(typ), h.release)
	}
	r.Get("/queue/status", h.status)
	return r
}

func (h *Handler) acquire(typ slot.Type) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		grant, err := h.session.Acquire(r.Context(), typ)
		if err != nil {
			h.writeAcquireError(w, typ, err)
			return
		}

		writeJSON(w, http.StatusOK, sessionResponse{
			AnamSessionToken:  grant.SessionToken,
			ElevenLabsAgentID: grant.AgentID,
			QueueSessionID:    grant.SlotID,
		})
	}
}

func (h *Handler) writeAcquireError(w http.ResponseWriter, typ slot.Type, err error) {
	switch {
	case errors.Is(err, admission.ErrWaitTimeout), errors.Is(err, admission.ErrStaleRequest):
		zlog.Warn().Msgf("%s session not granted: %v", typ, err)
		w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "All sessions are busy, please retry"})
	case errors.Is(err, context.Canceled):
		// Client went away; nobody reads the response.
		zlog.Info().Msgf("%s session request canceled by client", typ)
	default:
		zlog.Error().Msgf("%s session failed: %v", typ, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to get config"})
	}
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return
	}
	if req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "No session ID provided"})
		return
	}

	h.session.Release(req.SessionID)
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Status())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Error().Msgf("failed to write response: %v", err)
	}
}
