// ABOUTME: Read-only routes over the receipt log, outbound messages and the audit log
// ABOUTME: Receipts render their payload snapshot as embedded JSON when it parses

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/2389/wrap-gateway/internal/action"
	"github.com/2389/wrap-gateway/internal/store"
)

// ReceiptResponse is the JSON view of an execution receipt.
type ReceiptResponse struct {
	ID                string         `json:"id"`
	SourceTable       string         `json:"source_table"`
	SourceID          string         `json:"source_id"`
	ConversationID    string         `json:"conversation_id,omitempty"`
	OrganizationID    string         `json:"organization_id,omitempty"`
	Channel           action.Channel `json:"channel"`
	ActionType        action.Type    `json:"action_type"`
	Status            string         `json:"status"`
	Provider          string         `json:"provider"`
	ProviderReceiptID *string        `json:"provider_receipt_id"`
	PayloadSnapshot   any            `json:"payload_snapshot"`
	Error             *string        `json:"error"`
	TriggeredBy       string         `json:"triggered_by,omitempty"`
	CreatedAt         string         `json:"created_at"`
}

// MessageResponse is the JSON view of an outbound message.
type MessageResponse struct {
	ID             string         `json:"id"`
	ActionID       string         `json:"action_id"`
	ConversationID string         `json:"conversation_id,omitempty"`
	OrganizationID string         `json:"organization_id,omitempty"`
	Channel        action.Channel `json:"channel"`
	Direction      string         `json:"direction"`
	Content        string         `json:"content"`
	DeliveryStatus string         `json:"delivery_status"`
	Metadata       map[string]any `json:"metadata"`
	CreatedAt      string         `json:"created_at"`
}

// AuditEntryResponse is the JSON view of an audit entry.
type AuditEntryResponse struct {
	ID         string         `json:"id"`
	Actor      string         `json:"actor"`
	Action     string         `json:"action"`
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id"`
	Timestamp  string         `json:"timestamp"`
	Detail     map[string]any `json:"detail,omitempty"`
}

// handleListReceipts handles GET /v1/receipts.
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.store.ListReceipts(r.Context(), listFilter(r))
	if err != nil {
		s.logger.Error("listing receipts", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to list receipts")
		return
	}

	out := make([]ReceiptResponse, len(receipts))
	for i, rc := range receipts {
		out[i] = ReceiptResponse{
			ID:                rc.ID,
			SourceTable:       rc.SourceTable,
			SourceID:          rc.SourceID,
			ConversationID:    rc.ConversationID,
			OrganizationID:    rc.OrganizationID,
			Channel:           rc.Channel,
			ActionType:        rc.ActionType,
			Status:            string(rc.Status),
			Provider:          rc.Provider,
			ProviderReceiptID: rc.ProviderReceiptID,
			PayloadSnapshot:   rawJSON(rc.PayloadSnapshot),
			Error:             rc.Error,
			TriggeredBy:       rc.TriggeredBy,
			CreatedAt:         formatTime(rc.CreatedAt),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"receipts": out})
}

// handleListMessages handles GET /v1/messages.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.store.ListOutboundMessages(r.Context(), listFilter(r))
	if err != nil {
		s.logger.Error("listing outbound messages", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}

	out := make([]MessageResponse, len(msgs))
	for i, m := range msgs {
		out[i] = MessageResponse{
			ID:             m.ID,
			ActionID:       m.ActionID,
			ConversationID: m.ConversationID,
			OrganizationID: m.OrganizationID,
			Channel:        m.Channel,
			Direction:      m.Direction,
			Content:        m.Content,
			DeliveryStatus: string(m.DeliveryStatus),
			Metadata:       m.Metadata,
			CreatedAt:      formatTime(m.CreatedAt),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

// handleListAudit handles GET /v1/audit.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.AuditFilter{
		Actor:      q.Get("actor"),
		TargetType: q.Get("target_type"),
		TargetID:   q.Get("target_id"),
	}
	if a := q.Get("action"); a != "" {
		act := store.AuditAction(a)
		f.Action = &act
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			sendJSONError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		f.Since = &t
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))

	entries, err := s.store.ListAuditLog(r.Context(), f)
	if err != nil {
		s.logger.Error("listing audit log", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}

	out := make([]AuditEntryResponse, len(entries))
	for i, e := range entries {
		out[i] = AuditEntryResponse{
			ID:         e.ID,
			Actor:      e.Actor,
			Action:     string(e.Action),
			TargetType: e.TargetType,
			TargetID:   e.TargetID,
			Timestamp:  formatTime(e.Timestamp),
			Detail:     e.Detail,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}
