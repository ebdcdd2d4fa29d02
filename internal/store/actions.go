// ABOUTME: Action Record persistence with status- and version-guarded transitions
// ABOUTME: ClaimAction is the compare-and-set that admits exactly one executor per record

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/2389/wrap-gateway/internal/action"
)

const actionColumns = `id, conversation_id, organization_id, channel, action_type, status,
	action_payload, executed_at, version, created_by, created_at, updated_at`

// CreateAction inserts a new Action Record. ID, status and timestamps are
// filled in when unset; the channel is derived from the action type.
func (s *SQLStore) CreateAction(ctx context.Context, a *Action) error {
	if err := prepareAction(a); err != nil {
		return err
	}

	query := `
		INSERT INTO ai_actions (` + actionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.exec(ctx, query,
		a.ID,
		nullString(a.ConversationID),
		nullString(a.OrganizationID),
		string(a.Channel),
		string(a.ActionType),
		string(a.Status),
		a.Payload,
		nullTime(a.ExecutedAt),
		a.Version,
		nullString(a.CreatedBy),
		formatTime(a.CreatedAt),
		formatTime(a.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("action %s already exists: %w", a.ID, ErrConflict)
		}
		return fmt.Errorf("inserting action: %w", err)
	}

	s.logger.Debug("created action", "id", a.ID, "type", a.ActionType, "status", a.Status)
	return nil
}

// prepareAction fills defaults and checks the fields every record needs.
func prepareAction(a *Action) error {
	if !a.ActionType.Valid() {
		return fmt.Errorf("unknown action_type %q", a.ActionType)
	}
	ch, err := action.ChannelFor(a.ActionType)
	if err != nil {
		return err
	}
	if a.Channel == "" {
		a.Channel = ch
	}
	if a.Channel != ch {
		return fmt.Errorf("action_type %s cannot be sent on channel %s", a.ActionType, a.Channel)
	}
	if a.Status == "" {
		a.Status = action.StatusPending
	}
	if !a.Status.Claimable() {
		return fmt.Errorf("new actions must be pending or approved, got %q", a.Status)
	}
	if a.Payload == nil {
		a.Payload = []byte("{}")
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}
	return nil
}

// GetAction retrieves an Action Record by ID.
// Returns ErrNotFound if the record doesn't exist.
func (s *SQLStore) GetAction(ctx context.Context, id string) (*Action, error) {
	row := s.queryRow(ctx, `SELECT `+actionColumns+` FROM ai_actions WHERE id = ?`, id)
	a, err := scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying action: %w", err)
	}
	return a, nil
}

// ListActions returns Action Records newest first.
func (s *SQLStore) ListActions(ctx context.Context, f ListFilter) ([]*Action, error) {
	var w whereBuilder
	w.eq("conversation_id", f.ConversationID)
	w.eq("organization_id", f.OrganizationID)
	w.eq("status", f.Status)

	query := `SELECT ` + actionColumns + ` FROM ai_actions` + w.sql() + ` ORDER BY created_at DESC LIMIT ?`
	args := append(w.args, normalizeLimit(f.Limit))

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying actions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	actions := []*Action{}
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning action: %w", err)
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating actions: %w", err)
	}
	return actions, nil
}

// ClaimAction moves a pending or approved record into executing, guarded on
// both status and version so only one caller can win.
func (s *SQLStore) ClaimAction(ctx context.Context, id string, fromVersion int64, at time.Time) error {
	ts := formatTime(at)
	res, err := s.exec(ctx, `
		UPDATE ai_actions
		SET status = ?, executed_at = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ? AND status IN (?, ?)
	`, string(action.StatusExecuting), ts, ts, id, fromVersion,
		string(action.StatusPending), string(action.StatusApproved))
	if err != nil {
		return fmt.Errorf("claiming action: %w", err)
	}
	return s.requireOneRow(ctx, res, id)
}

// FinishAction moves an executing record into sent or failed.
func (s *SQLStore) FinishAction(ctx context.Context, id string, status action.Status, at time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("finish status must be terminal, got %q", status)
	}
	ts := formatTime(at)
	res, err := s.exec(ctx, `
		UPDATE ai_actions
		SET status = ?, executed_at = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND status = ?
	`, string(status), ts, ts, id, string(action.StatusExecuting))
	if err != nil {
		return fmt.Errorf("finishing action: %w", err)
	}
	return s.requireOneRow(ctx, res, id)
}

// ApproveAction moves a pending record into approved.
func (s *SQLStore) ApproveAction(ctx context.Context, id string) error {
	ts := formatTime(time.Now())
	res, err := s.exec(ctx, `
		UPDATE ai_actions
		SET status = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND status = ?
	`, string(action.StatusApproved), ts, id, string(action.StatusPending))
	if err != nil {
		return fmt.Errorf("approving action: %w", err)
	}
	return s.requireOneRow(ctx, res, id)
}

// requireOneRow turns a zero-row guarded update into ErrNotFound or ErrConflict.
func (s *SQLStore) requireOneRow(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := s.GetAction(ctx, id); err != nil {
		return err
	}
	return ErrConflict
}

func scanAction(scanner interface{ Scan(dest ...any) error }) (*Action, error) {
	var a Action
	var conversationID, organizationID, executedAt, createdBy sql.NullString
	var channel, actionType, status, createdAt, updatedAt string

	if err := scanner.Scan(
		&a.ID,
		&conversationID,
		&organizationID,
		&channel,
		&actionType,
		&status,
		&a.Payload,
		&executedAt,
		&a.Version,
		&createdBy,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	a.ConversationID = conversationID.String
	a.OrganizationID = organizationID.String
	a.CreatedBy = createdBy.String
	a.Channel = action.Channel(channel)
	a.ActionType = action.Type(actionType)
	a.Status = action.Status(status)

	var err error
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	if executedAt.Valid {
		t, err := parseTime(executedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing executed_at: %w", err)
		}
		a.ExecutedAt = &t
	}
	return &a, nil
}
