// ABOUTME: Operator routes that store and remove channel credentials
// ABOUTME: Values are write-only over the API and never echoed back or logged

package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/2389/wrap-gateway/internal/action"
	"github.com/2389/wrap-gateway/internal/auth"
	"github.com/2389/wrap-gateway/internal/store"
)

// PutCredentialRequest is the JSON body of PUT /v1/credentials/{channel}/{name}.
type PutCredentialRequest struct {
	Value          string `json:"value"`
	OrganizationID string `json:"organization_id,omitempty"`
}

func credentialChannel(r *http.Request) (action.Channel, bool) {
	ch := action.Channel(chi.URLParam(r, "channel"))
	switch ch {
	case action.ChannelSocialDM, action.ChannelEmail, action.ChannelWebsite, action.ChannelContent:
		return ch, true
	}
	return "", false
}

// handlePutCredential handles PUT /v1/credentials/{channel}/{name}.
func (s *Server) handlePutCredential(w http.ResponseWriter, r *http.Request) {
	ch, ok := credentialChannel(r)
	if !ok {
		sendJSONError(w, http.StatusBadRequest, "unknown channel")
		return
	}
	name := chi.URLParam(r, "name")

	var req PutCredentialRequest
	if err := decodeBody(w, r, &req); err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Value) == "" {
		sendJSONError(w, http.StatusBadRequest, "value is required")
		return
	}

	err := s.store.PutCredential(r.Context(), &store.ChannelCredential{
		Channel:        ch,
		Name:           name,
		Value:          req.Value,
		OrganizationID: req.OrganizationID,
		CreatedBy:      auth.Actor(r.Context()),
	})
	if err != nil {
		s.logger.Error("storing credential", "channel", ch, "name", name, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to store credential")
		return
	}

	s.audit(r.Context(), store.AuditPutCredential, "credential", string(ch)+"/"+name, map[string]any{
		"organization_id": req.OrganizationID,
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteCredential handles DELETE /v1/credentials/{channel}/{name}.
func (s *Server) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	ch, ok := credentialChannel(r)
	if !ok {
		sendJSONError(w, http.StatusBadRequest, "unknown channel")
		return
	}
	name := chi.URLParam(r, "name")
	orgID := r.URL.Query().Get("organization_id")

	err := s.store.DeleteCredential(r.Context(), ch, name, orgID)
	if errors.Is(err, store.ErrNotFound) {
		sendJSONError(w, http.StatusNotFound, "credential not found")
		return
	}
	if err != nil {
		s.logger.Error("deleting credential", "channel", ch, "name", name, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to delete credential")
		return
	}

	s.audit(r.Context(), store.AuditDeleteCredential, "credential", string(ch)+"/"+name, map[string]any{
		"organization_id": orgID,
	})
	w.WriteHeader(http.StatusNoContent)
}
