// ABOUTME: Outbound Message persistence for dm, email and website actions
// ABOUTME: This is the artifact conversation views read after a dispatch

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/2389/wrap-gateway/internal/action"
)

const messageColumns = `id, action_id, conversation_id, organization_id, channel, direction,
	content, delivery_status, metadata_json, created_at`

// SaveOutboundMessage stores an outbound message. Generates ID and CreatedAt if not set.
func (s *SQLStore) SaveOutboundMessage(ctx context.Context, m *OutboundMessage) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.Direction == "" {
		m.Direction = "outbound"
	}

	var metadataJSON *string
	if m.Metadata != nil {
		data, err := json.Marshal(m.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling message metadata: %w", err)
		}
		str := string(data)
		metadataJSON = &str
	}

	query := `
		INSERT INTO outbound_messages (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.exec(ctx, query,
		m.ID,
		m.ActionID,
		nullString(m.ConversationID),
		nullString(m.OrganizationID),
		string(m.Channel),
		m.Direction,
		m.Content,
		string(m.DeliveryStatus),
		nullStringPtr(metadataJSON),
		formatTime(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting outbound message: %w", err)
	}

	s.logger.Debug("saved outbound message", "id", m.ID, "action_id", m.ActionID, "status", m.DeliveryStatus)
	return nil
}

// ListOutboundMessages returns outbound messages newest first.
func (s *SQLStore) ListOutboundMessages(ctx context.Context, f ListFilter) ([]*OutboundMessage, error) {
	var w whereBuilder
	w.eq("conversation_id", f.ConversationID)
	w.eq("organization_id", f.OrganizationID)
	w.eq("action_id", f.ActionID)
	w.eq("delivery_status", f.Status)

	query := `SELECT ` + messageColumns + ` FROM outbound_messages` + w.sql() + ` ORDER BY created_at DESC LIMIT ?`
	args := append(w.args, normalizeLimit(f.Limit))

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying outbound messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := []*OutboundMessage{}
	for rows.Next() {
		var m OutboundMessage
		var conversationID, organizationID, metadataJSON sql.NullString
		var channel, status, createdAt string

		if err := rows.Scan(
			&m.ID,
			&m.ActionID,
			&conversationID,
			&organizationID,
			&channel,
			&m.Direction,
			&m.Content,
			&status,
			&metadataJSON,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scanning outbound message: %w", err)
		}

		m.ConversationID = conversationID.String
		m.OrganizationID = organizationID.String
		m.Channel = action.Channel(channel)
		m.DeliveryStatus = DeliveryStatus(status)
		if metadataJSON.Valid {
			if err := json.Unmarshal([]byte(metadataJSON.String), &m.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshaling message metadata: %w", err)
			}
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating outbound messages: %w", err)
	}
	return messages, nil
}
