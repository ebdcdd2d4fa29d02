// ABOUTME: Append-only Execution Receipt log, one row per dispatch attempt
// ABOUTME: Receipts are inserted once and never updated or deleted

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

const receiptColumns = `id, source_table, source_id, conversation_id, organization_id, channel,
	action_type, status, provider, provider_receipt_id, payload_snapshot, error, triggered_by, created_at`

// AppendReceipt writes a receipt. Generates ID and CreatedAt if not set.
func (s *SQLStore) AppendReceipt(ctx context.Context, r *Receipt) error {
	if err := prepareReceipt(r); err != nil {
		return err
	}

	query := `
		INSERT INTO execution_receipts (` + receiptColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.exec(ctx, query,
		r.ID,
		r.SourceTable,
		r.SourceID,
		nullString(r.ConversationID),
		nullString(r.OrganizationID),
		string(r.Channel),
		string(r.ActionType),
		string(r.Status),
		r.Provider,
		nullStringPtr(r.ProviderReceiptID),
		r.PayloadSnapshot,
		nullStringPtr(r.Error),
		nullString(r.TriggeredBy),
		formatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting receipt: %w", err)
	}

	s.logger.Debug("appended receipt",
		"id", r.ID,
		"source", r.SourceTable+"/"+r.SourceID,
		"status", r.Status,
		"provider", r.Provider,
	)
	return nil
}

func prepareReceipt(r *Receipt) error {
	if r.SourceTable == "" || r.SourceID == "" {
		return errors.New("receipt requires a source table and id")
	}
	switch r.Status {
	case ReceiptSent, ReceiptFailed, ReceiptPending:
	default:
		return fmt.Errorf("invalid receipt status %q", r.Status)
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.PayloadSnapshot == nil {
		r.PayloadSnapshot = []byte{}
	}
	return nil
}

// ListReceipts returns receipts newest first.
func (s *SQLStore) ListReceipts(ctx context.Context, f ListFilter) ([]*Receipt, error) {
	var w whereBuilder
	w.eq("conversation_id", f.ConversationID)
	w.eq("organization_id", f.OrganizationID)
	w.eq("status", f.Status)
	w.eq("source_id", f.SourceID)

	query := `SELECT ` + receiptColumns + ` FROM execution_receipts` + w.sql() + ` ORDER BY created_at DESC LIMIT ?`
	args := append(w.args, normalizeLimit(f.Limit))

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying receipts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	receipts := []*Receipt{}
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating receipts: %w", err)
	}
	return receipts, nil
}

func scanReceipt(scanner interface{ Scan(dest ...any) error }) (*Receipt, error) {
	var r Receipt
	var conversationID, organizationID, providerReceiptID, errText, triggeredBy sql.NullString
	var channel, actionType, status, createdAt string

	if err := scanner.Scan(
		&r.ID,
		&r.SourceTable,
		&r.SourceID,
		&conversationID,
		&organizationID,
		&channel,
		&actionType,
		&status,
		&r.Provider,
		&providerReceiptID,
		&r.PayloadSnapshot,
		&errText,
		&triggeredBy,
		&createdAt,
	); err != nil {
		return nil, fmt.Errorf("scanning receipt: %w", err)
	}

	r.ConversationID = conversationID.String
	r.OrganizationID = organizationID.String
	r.TriggeredBy = triggeredBy.String
	r.Channel = action.Channel(channel)
	r.ActionType = action.Type(actionType)
	r.Status = ReceiptStatus(status)
	if providerReceiptID.Valid {
		r.ProviderReceiptID = &providerReceiptID.String
	}
	if errText.Valid {
		r.Error = &errText.String
	}

	var err error
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &r, nil
}
