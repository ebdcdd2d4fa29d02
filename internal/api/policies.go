// ABOUTME: Operator routes for per-conversation policy and the process-wide operating mode
// ABOUTME: Every write lands in the audit log with the caller as actor

package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/2389/wrap-gateway/internal/auth"
	"github.com/2389/wrap-gateway/internal/policy"
	"github.com/2389/wrap-gateway/internal/store"
)

// PolicyResponse is the JSON view of a conversation policy.
type PolicyResponse struct {
	ConversationID string `json:"conversation_id"`
	policy.Context
	// Stored is false when the conversation runs on defaults.
	Stored    bool   `json:"stored"`
	UpdatedBy string `json:"updated_by,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// PutPolicyRequest is the JSON body of PUT /v1/policies/{conversation_id}.
// Absent fields keep their current value.
type PutPolicyRequest struct {
	AIPaused         *bool `json:"ai_paused"`
	ApprovalRequired *bool `json:"approval_required"`
	AutopilotAllowed *bool `json:"autopilot_allowed"`
}

// ModeRequest is the JSON body of PUT /v1/mode.
type ModeRequest struct {
	Mode string `json:"mode"`
}

// ModeResponse reports the operating mode and where it came from.
type ModeResponse struct {
	Mode   policy.Mode `json:"mode"`
	Source string      `json:"source"`
}

// loadPolicy returns the stored policy or the defaults.
func (s *Server) loadPolicy(r *http.Request, conversationID string) (*store.ConversationPolicy, bool, error) {
	p, err := s.store.GetConversationPolicy(r.Context(), conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return &store.ConversationPolicy{ConversationID: conversationID, Context: policy.DefaultContext()}, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

func toPolicyResponse(p *store.ConversationPolicy, stored bool) PolicyResponse {
	resp := PolicyResponse{
		ConversationID: p.ConversationID,
		Context:        p.Context,
		Stored:         stored,
		UpdatedBy:      p.UpdatedBy,
	}
	if stored {
		resp.UpdatedAt = formatTime(p.UpdatedAt)
	}
	return resp
}

// handleGetPolicy handles GET /v1/policies/{conversation_id}.
func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversation_id")
	p, stored, err := s.loadPolicy(r, id)
	if err != nil {
		s.logger.Error("loading policy", "conversation_id", id, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to load policy")
		return
	}
	writeJSON(w, http.StatusOK, toPolicyResponse(p, stored))
}

// handlePutPolicy handles PUT /v1/policies/{conversation_id}.
func (s *Server) handlePutPolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversation_id")

	var req PutPolicyRequest
	if err := decodeBody(w, r, &req); err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, _, err := s.loadPolicy(r, id)
	if err != nil {
		s.logger.Error("loading policy", "conversation_id", id, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to load policy")
		return
	}
	if req.AIPaused != nil {
		p.AIPaused = *req.AIPaused
	}
	if req.ApprovalRequired != nil {
		p.ApprovalRequired = *req.ApprovalRequired
	}
	if req.AutopilotAllowed != nil {
		p.AutopilotAllowed = *req.AutopilotAllowed
	}
	p.UpdatedBy = auth.Actor(r.Context())
	p.UpdatedAt = s.now()

	if err := s.store.PutConversationPolicy(r.Context(), p); err != nil {
		s.logger.Error("storing policy", "conversation_id", id, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to store policy")
		return
	}

	s.audit(r.Context(), store.AuditSetPolicy, "conversation", id, map[string]any{
		"ai_paused":         p.AIPaused,
		"approval_required": p.ApprovalRequired,
		"autopilot_allowed": p.AutopilotAllowed,
	})
	writeJSON(w, http.StatusOK, toPolicyResponse(p, true))
}

// handleGetMode handles GET /v1/mode.
func (s *Server) handleGetMode(w http.ResponseWriter, r *http.Request) {
	mode, err := s.store.OperatingMode(r.Context())
	switch {
	case errors.Is(err, policy.ErrModeUnset):
		writeJSON(w, http.StatusOK, ModeResponse{Mode: s.defaultMode, Source: "default"})
	case err != nil:
		s.logger.Error("reading operating mode", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to read operating mode")
	default:
		writeJSON(w, http.StatusOK, ModeResponse{Mode: mode, Source: "stored"})
	}
}

// handlePutMode handles PUT /v1/mode.
func (s *Server) handlePutMode(w http.ResponseWriter, r *http.Request) {
	var req ModeRequest
	if err := decodeBody(w, r, &req); err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	mode, err := policy.ParseMode(strings.TrimSpace(req.Mode))
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.SetOperatingMode(r.Context(), mode, auth.Actor(r.Context())); err != nil {
		s.logger.Error("storing operating mode", "mode", mode, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to store operating mode")
		return
	}

	s.audit(r.Context(), store.AuditSetMode, "mode", string(mode), nil)
	writeJSON(w, http.StatusOK, ModeResponse{Mode: mode, Source: "stored"})
}
