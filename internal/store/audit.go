// ABOUTME: Audit log entity and store methods for tracking operator writes
// ABOUTME: Records who changed policy, mode, approvals and credentials for compliance and debugging

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents an auditable action.
type AuditAction string

const (
	AuditSetMode          AuditAction = "set_mode"
	AuditSetPolicy        AuditAction = "set_policy"
	AuditCreateAction     AuditAction = "create_action"
	AuditApproveAction    AuditAction = "approve_action"
	AuditPutCredential    AuditAction = "put_credential"
	AuditDeleteCredential AuditAction = "delete_credential"
	AuditCreateToken      AuditAction = "create_token"
)

// ValidAuditActions lists all valid audit actions.
var ValidAuditActions = []AuditAction{
	AuditSetMode,
	AuditSetPolicy,
	AuditCreateAction,
	AuditApproveAction,
	AuditPutCredential,
	AuditDeleteCredential,
	AuditCreateToken,
}

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID         string         // UUID v4
	Actor      string         // caller that performed the action
	Action     AuditAction    // what action was performed
	TargetType string         // "action", "conversation", "mode", "credential", "token"
	TargetID   string         // ID of the affected resource
	Timestamp  time.Time      // when it happened
	Detail     map[string]any // additional context
}

// AuditFilter specifies filtering options for listing audit entries.
type AuditFilter struct {
	Since      *time.Time   // entries after this time
	Until      *time.Time   // entries before this time
	Actor      string       // filter by actor
	Action     *AuditAction // filter by action type
	TargetType string       // filter by target type
	TargetID   string       // filter by target ID
	Limit      int          // max results (default 100, max 1000)
}

// AppendAuditLog appends a new entry to the audit log.
// Generates ID and Timestamp if not set.
func (s *SQLStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	var detailJSON *string
	if e.Detail != nil {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshaling audit detail: %w", err)
		}
		str := string(data)
		detailJSON = &str
	}

	query := `
		INSERT INTO audit_log (audit_id, actor, action, target_type, target_id, ts, detail_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.exec(ctx, query,
		e.ID,
		e.Actor,
		string(e.Action),
		e.TargetType,
		e.TargetID,
		formatTime(e.Timestamp),
		nullStringPtr(detailJSON),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	s.logger.Debug("appended audit log",
		"id", e.ID,
		"actor", e.Actor,
		"action", e.Action,
		"target", e.TargetType+"/"+e.TargetID,
	)
	return nil
}

// scanAuditEntry scans a row into an AuditEntry.
func scanAuditEntry(scanner interface{ Scan(dest ...any) error }) (AuditEntry, error) {
	var e AuditEntry
	var actionStr, tsStr string
	var detailJSON *string

	if err := scanner.Scan(
		&e.ID,
		&e.Actor,
		&actionStr,
		&e.TargetType,
		&e.TargetID,
		&tsStr,
		&detailJSON,
	); err != nil {
		return e, fmt.Errorf("scanning audit entry: %w", err)
	}

	e.Action = AuditAction(actionStr)
	var err error
	e.Timestamp, err = parseTime(tsStr)
	if err != nil {
		return e, fmt.Errorf("parsing timestamp: %w", err)
	}

	if detailJSON != nil {
		if err := json.Unmarshal([]byte(*detailJSON), &e.Detail); err != nil {
			return e, fmt.Errorf("unmarshaling detail: %w", err)
		}
	}
	return e, nil
}

// ListAuditLog returns audit entries matching the filter criteria.
// Results are returned newest first (DESC by timestamp).
func (s *SQLStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	var w whereBuilder
	w.eq("actor", f.Actor)
	w.eq("target_type", f.TargetType)
	w.eq("target_id", f.TargetID)
	if f.Action != nil {
		w.eq("action", string(*f.Action))
	}
	if f.Since != nil {
		w.clauses = append(w.clauses, "ts >= ?")
		w.args = append(w.args, formatTime(*f.Since))
	}
	if f.Until != nil {
		w.clauses = append(w.clauses, "ts <= ?")
		w.args = append(w.args, formatTime(*f.Until))
	}

	query := `
		SELECT audit_id, actor, action, target_type, target_id, ts, detail_json
		FROM audit_log` + w.sql() + `
		ORDER BY ts DESC
		LIMIT ?`
	args := append(w.args, normalizeLimit(f.Limit))

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	if entries == nil {
		entries = []AuditEntry{}
	}
	return entries, nil
}
