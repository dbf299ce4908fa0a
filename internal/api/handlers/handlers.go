// Package handlers implements the HTTP handlers for the tutor API.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kielitutor/tutor/internal/api/middleware"
	"github.com/kielitutor/tutor/pkg/contracts"
	"github.com/kielitutor/tutor/pkg/models"
	"github.com/rs/zerolog/log"
)

// maxBodyBytes bounds the chat request body.
const maxBodyBytes = 64 << 10

// AgentLister exposes the configured stages. Implemented by *agents.Configuration.
type AgentLister interface {
	List() []models.AgentConfig
}

// UsageReporter exposes token and cost totals. Implemented by *router.ModelRouter.
type UsageReporter interface {
	GetUsageSummary() *models.UsageSummary
}

// Handlers holds all handler dependencies.
type Handlers struct {
	Tutor    contracts.Tutor
	Sessions contracts.SessionStore
	Agents   AgentLister
	Usage    UsageReporter
}

// New creates a new Handlers instance with all dependencies.
func New(tutor contracts.Tutor, sessions contracts.SessionStore, agents AgentLister, usage UsageReporter) *Handlers {
	return &Handlers{
		Tutor:    tutor,
		Sessions: sessions,
		Agents:   agents,
		Usage:    usage,
	}
}

// ══════════════════════════════════════════════════════════════
// ── Chat Handlers ────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// SendMessage runs one learner turn through the pipeline. An absent, null
// or blank message starts a new conversation.
func (h *Handlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req models.PromptRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, &models.ValidationError{Reason: "invalid request body"}, "")
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	middleware.SetSession(r.Context(), req.SessionID)
	if req.SessionID == "" {
		respondError(w, http.StatusBadRequest, &models.ValidationError{Field: "sessionId", Reason: "is required"}, "")
		return
	}

	resp, err := h.Tutor.Handle(r.Context(), models.ConversationTurn{
		Message:   req.Message,
		SessionID: req.SessionID,
	})
	if err != nil {
		middleware.SetErrorKind(r.Context(), models.ErrorKind(err))
		respondError(w, statusFor(err), err, req.SessionID)
		return
	}

	respondJSON(w, http.StatusOK, models.AgentResponse{
		Success:   true,
		Data:      resp,
		SessionID: req.SessionID,
		Timestamp: time.Now().UTC(),
	})
}

// ResetSession discards a conversation's history.
func (h *Handlers) ResetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	middleware.SetSession(r.Context(), sessionID)
	if err := h.Sessions.Reset(r.Context(), sessionID); err != nil {
		respondError(w, http.StatusInternalServerError, err, sessionID)
		return
	}
	log.Info().Str("session_id", sessionID).Msg("Session reset")
	w.WriteHeader(http.StatusNoContent)
}

// ══════════════════════════════════════════════════════════════
// ── Introspection Handlers ───────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Agents.List())
}

func (h *Handlers) GetUsage(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Usage.GetUsageSummary())
}

// ── Helpers ─────────────────────────────────────────────────

// statusFor maps a pipeline failure onto its HTTP status.
func statusFor(err error) int {
	switch models.ErrorKind(err) {
	case models.KindValidation:
		return http.StatusBadRequest
	case models.KindProvider, models.KindExtraction:
		return http.StatusBadGateway
	case models.KindConfiguration:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, err error, sessionID string) {
	kind := models.ErrorKind(err)
	if kind == "" {
		kind = "internal_error"
	}
	respondJSON(w, status, models.ErrorResponse{
		Success:   false,
		Error:     models.ErrorBody{Kind: kind, Message: err.Error()},
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	})
}
