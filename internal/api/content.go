// ABOUTME: Content routes: render a brief and read content jobs
// ABOUTME: The render response keeps the usedFn/execResult field names dashboards already read

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/2389/wrap-gateway/internal/action"
	"github.com/2389/wrap-gateway/internal/auth"
	"github.com/2389/wrap-gateway/internal/render"
	"github.com/2389/wrap-gateway/internal/store"
)

// ContentJobResponse is the JSON view of a content job.
type ContentJobResponse struct {
	ID              string         `json:"id"`
	ConversationID  string         `json:"conversation_id,omitempty"`
	OrganizationID  string         `json:"organization_id,omitempty"`
	RequestedBy     string         `json:"requested_by,omitempty"`
	Agent           string         `json:"agent,omitempty"`
	Mode            string         `json:"mode"`
	Status          string         `json:"status"`
	InstructionText string         `json:"instruction_text"`
	Parsed          map[string]any `json:"parsed"`
	AIActionID      *string        `json:"ai_action_id"`
	UsedFn          *string        `json:"used_fn"`
	Result          map[string]any `json:"result"`
	Error           string         `json:"error,omitempty"`
	CreatedAt       string         `json:"created_at"`
	UpdatedAt       string         `json:"updated_at"`
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func toContentJobResponse(j *store.ContentJob) ContentJobResponse {
	return ContentJobResponse{
		ID:              j.ID,
		ConversationID:  j.ConversationID,
		OrganizationID:  j.OrganizationID,
		RequestedBy:     j.RequestedBy,
		Agent:           j.Agent,
		Mode:            j.Mode,
		Status:          string(j.Status),
		InstructionText: j.InstructionText,
		Parsed:          j.Parsed,
		AIActionID:      optionalString(j.AIActionID),
		UsedFn:          optionalString(j.UsedFn),
		Result:          j.Result,
		Error:           j.Error,
		CreatedAt:       formatTime(j.CreatedAt),
		UpdatedAt:       formatTime(j.UpdatedAt),
	}
}

// handleRender handles POST /v1/content/render.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	var req render.RenderRequest
	if err := decodeBody(w, r, &req); err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.RequestedBy == "" {
		req.RequestedBy = auth.Actor(r.Context())
	}

	resp, err := s.render.Render(r.Context(), req)
	if err != nil {
		if action.IsValidation(err) {
			sendJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("rendering content", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetContentJob handles GET /v1/content/jobs/{id}.
func (s *Server) handleGetContentJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetContentJob(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		sendJSONError(w, http.StatusNotFound, "content job not found")
		return
	}
	if err != nil {
		s.logger.Error("loading content job", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to load content job")
		return
	}
	writeJSON(w, http.StatusOK, toContentJobResponse(job))
}

// handleListContentJobs handles GET /v1/content/jobs.
func (s *Server) handleListContentJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.ListContentJobs(r.Context(), listFilter(r))
	if err != nil {
		s.logger.Error("listing content jobs", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to list content jobs")
		return
	}

	out := make([]ContentJobResponse, len(jobs))
	for i, j := range jobs {
		out[i] = toContentJobResponse(j)
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}
