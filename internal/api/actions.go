// ABOUTME: Action routes: execute, create, read, list and approve
// ABOUTME: Maps orchestrator errors onto the 400/404/409/500 contract

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/2389/wrap-gateway/internal/action"
	"github.com/2389/wrap-gateway/internal/auth"
	"github.com/2389/wrap-gateway/internal/orchestrator"
	"github.com/2389/wrap-gateway/internal/store"
)

// ExecuteRequest is the JSON body of POST /v1/actions/execute.
type ExecuteRequest struct {
	ActionID string `json:"action_id"`
}

// CreateActionRequest is the JSON body of POST /v1/actions.
type CreateActionRequest struct {
	ConversationID string          `json:"conversation_id,omitempty"`
	OrganizationID string          `json:"organization_id,omitempty"`
	ActionType     action.Type     `json:"action_type"`
	Status         action.Status   `json:"status,omitempty"`
	Payload        json.RawMessage `json:"action_payload"`
}

// ActionResponse is the JSON view of an Action Record.
type ActionResponse struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id,omitempty"`
	OrganizationID string         `json:"organization_id,omitempty"`
	Channel        action.Channel `json:"channel"`
	ActionType     action.Type    `json:"action_type"`
	Status         action.Status  `json:"status"`
	Payload        any            `json:"action_payload"`
	ExecutedAt     *string        `json:"executed_at"`
	Version        int64          `json:"version"`
	CreatedBy      string         `json:"created_by,omitempty"`
	CreatedAt      string         `json:"created_at"`
	UpdatedAt      string         `json:"updated_at"`
}

func toActionResponse(a *store.Action) ActionResponse {
	return ActionResponse{
		ID:             a.ID,
		ConversationID: a.ConversationID,
		OrganizationID: a.OrganizationID,
		Channel:        a.Channel,
		ActionType:     a.ActionType,
		Status:         a.Status,
		Payload:        rawJSON(a.Payload),
		ExecutedAt:     formatTimePtr(a.ExecutedAt),
		Version:        a.Version,
		CreatedBy:      a.CreatedBy,
		CreatedAt:      formatTime(a.CreatedAt),
		UpdatedAt:      formatTime(a.UpdatedAt),
	}
}

// handleExecute handles POST /v1/actions/execute.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := decodeBody(w, r, &req); err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.ActionID = strings.TrimSpace(req.ActionID)
	if req.ActionID == "" {
		sendJSONError(w, http.StatusBadRequest, "action_id is required")
		return
	}

	res, err := s.orchestrator.Execute(r.Context(), req.ActionID, auth.Actor(r.Context()))
	if err != nil {
		s.sendExecuteError(w, req.ActionID, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) sendExecuteError(w http.ResponseWriter, actionID string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		sendJSONError(w, http.StatusNotFound, "action not found")
	case action.IsValidation(err):
		sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, orchestrator.ErrInProgress):
		sendJSONError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("executing action", "action_id", actionID, "error", err)
		sendJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleCreateAction handles POST /v1/actions. Producers may only create
// pending records; an approved record needs the operator role.
func (s *Server) handleCreateAction(w http.ResponseWriter, r *http.Request) {
	var req CreateActionRequest
	if err := decodeBody(w, r, &req); err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !req.ActionType.Valid() {
		sendJSONError(w, http.StatusBadRequest, "action_type must be one of dm_send, email_send, website_reply, content_render")
		return
	}
	if len(req.Payload) == 0 || !json.Valid(req.Payload) {
		sendJSONError(w, http.StatusBadRequest, "action_payload must be a JSON object")
		return
	}
	switch req.Status {
	case "", action.StatusPending:
	case action.StatusApproved:
		if !auth.FromContext(r.Context()).HasRole(auth.RoleOperator) {
			sendJSONError(w, http.StatusForbidden, "operator role required to create approved actions")
			return
		}
	default:
		sendJSONError(w, http.StatusBadRequest, "status must be pending or approved")
		return
	}

	rec := &store.Action{
		ConversationID: req.ConversationID,
		OrganizationID: req.OrganizationID,
		ActionType:     req.ActionType,
		Status:         req.Status,
		Payload:        req.Payload,
		CreatedBy:      auth.Actor(r.Context()),
	}
	if err := s.store.CreateAction(r.Context(), rec); err != nil {
		s.logger.Error("creating action", "action_type", req.ActionType, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to create action")
		return
	}

	s.audit(r.Context(), store.AuditCreateAction, "action", rec.ID, map[string]any{
		"action_type": string(rec.ActionType),
		"status":      string(rec.Status),
	})
	writeJSON(w, http.StatusCreated, toActionResponse(rec))
}

// handleGetAction handles GET /v1/actions/{id}.
func (s *Server) handleGetAction(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetAction(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		sendJSONError(w, http.StatusNotFound, "action not found")
		return
	}
	if err != nil {
		s.logger.Error("loading action", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to load action")
		return
	}
	writeJSON(w, http.StatusOK, toActionResponse(rec))
}

// handleListActions handles GET /v1/actions.
func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListActions(r.Context(), listFilter(r))
	if err != nil {
		s.logger.Error("listing actions", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to list actions")
		return
	}

	out := make([]ActionResponse, len(recs))
	for i, rec := range recs {
		out[i] = toActionResponse(rec)
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": out})
}

// handleApprove handles POST /v1/actions/{id}/approve.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := s.store.ApproveAction(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		sendJSONError(w, http.StatusNotFound, "action not found")
		return
	case errors.Is(err, store.ErrConflict):
		sendJSONError(w, http.StatusConflict, "only pending actions can be approved")
		return
	case err != nil:
		s.logger.Error("approving action", "action_id", id, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to approve action")
		return
	}

	s.audit(r.Context(), store.AuditApproveAction, "action", id, nil)

	rec, err := s.store.GetAction(r.Context(), id)
	if err != nil {
		s.logger.Error("reloading approved action", "action_id", id, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to load action")
		return
	}
	writeJSON(w, http.StatusOK, toActionResponse(rec))
}
