// ABOUTME: Policy Store: per-conversation gating flags and the operating mode setting
// ABOUTME: The gateway only reads these; operators write them through the admin API

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/2389/wrap-gateway/internal/policy"
)

const settingOperatingMode = "operating_mode"

// GetConversationPolicy returns the stored policy of a conversation.
// Returns ErrNotFound if no operator has configured it.
func (s *SQLStore) GetConversationPolicy(ctx context.Context, conversationID string) (*ConversationPolicy, error) {
	var p ConversationPolicy
	var paused, approval, autopilot int
	var updatedBy sql.NullString
	var updatedAt string

	err := s.queryRow(ctx, `
		SELECT conversation_id, ai_paused, approval_required, autopilot_allowed, updated_by, updated_at
		FROM conversation_policies
		WHERE conversation_id = ?
	`, conversationID).Scan(&p.ConversationID, &paused, &approval, &autopilot, &updatedBy, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation policy: %w", err)
	}

	p.AIPaused = paused != 0
	p.ApprovalRequired = approval != 0
	p.AutopilotAllowed = autopilot != 0
	p.UpdatedBy = updatedBy.String
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &p, nil
}

// PutConversationPolicy creates or replaces a conversation's policy.
func (s *SQLStore) PutConversationPolicy(ctx context.Context, p *ConversationPolicy) error {
	if p.ConversationID == "" {
		return errors.New("conversation_id is required")
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}

	_, err := s.exec(ctx, `
		INSERT INTO conversation_policies (conversation_id, ai_paused, approval_required, autopilot_allowed, updated_by, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (conversation_id) DO UPDATE SET
			ai_paused = excluded.ai_paused,
			approval_required = excluded.approval_required,
			autopilot_allowed = excluded.autopilot_allowed,
			updated_by = excluded.updated_by,
			updated_at = excluded.updated_at
	`,
		p.ConversationID,
		boolToInt(p.AIPaused),
		boolToInt(p.ApprovalRequired),
		boolToInt(p.AutopilotAllowed),
		nullString(p.UpdatedBy),
		formatTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting conversation policy: %w", err)
	}

	s.logger.Debug("stored conversation policy",
		"conversation_id", p.ConversationID,
		"ai_paused", p.AIPaused,
		"approval_required", p.ApprovalRequired,
		"autopilot_allowed", p.AutopilotAllowed,
	)
	return nil
}

// OperatingMode returns the stored operating mode, or policy.ErrModeUnset.
func (s *SQLStore) OperatingMode(ctx context.Context) (policy.Mode, error) {
	var value string
	err := s.queryRow(ctx, `SELECT value FROM gateway_settings WHERE key = ?`, settingOperatingMode).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", policy.ErrModeUnset
	}
	if err != nil {
		return "", fmt.Errorf("querying operating mode: %w", err)
	}
	return policy.ParseMode(value)
}

// SetOperatingMode stores the process-wide operating mode.
func (s *SQLStore) SetOperatingMode(ctx context.Context, mode policy.Mode, actor string) error {
	if _, err := policy.ParseMode(string(mode)); err != nil {
		return err
	}
	_, err := s.exec(ctx, `
		INSERT INTO gateway_settings (key, value, updated_by, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			updated_by = excluded.updated_by,
			updated_at = excluded.updated_at
	`, settingOperatingMode, string(mode), nullString(actor), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("storing operating mode: %w", err)
	}
	s.logger.Info("operating mode changed", "mode", mode, "actor", actor)
	return nil
}

// PolicyContext returns the Policy Context the gate should see. A record
// without a conversation gets nil so only the operating mode applies; a
// conversation nobody configured gets policy.DefaultContext.
func PolicyContext(ctx context.Context, ps PolicyStore, conversationID string) (*policy.Context, error) {
	if conversationID == "" {
		return nil, nil
	}
	p, err := ps.GetConversationPolicy(ctx, conversationID)
	if errors.Is(err, ErrNotFound) {
		pc := policy.DefaultContext()
		return &pc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading policy for conversation %s: %w", conversationID, err)
	}
	pc := p.Context
	return &pc, nil
}
