// ABOUTME: Client calls for the receipt log, outbound messages and the audit log
// ABOUTME: All three are read-only list routes

package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/2389/wrap-gateway/internal/api"
)

// ListReceipts lists execution receipts.
func (c *Client) ListReceipts(ctx context.Context, opts ListOptions) ([]api.ReceiptResponse, error) {
	var out struct {
		Receipts []api.ReceiptResponse `json:"receipts"`
	}
	if err := c.do(ctx, http.MethodGet, withQuery("/v1/receipts", opts.query()), nil, &out); err != nil {
		return nil, err
	}
	return out.Receipts, nil
}

// ListMessages lists outbound messages.
func (c *Client) ListMessages(ctx context.Context, opts ListOptions) ([]api.MessageResponse, error) {
	var out struct {
		Messages []api.MessageResponse `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, withQuery("/v1/messages", opts.query()), nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// AuditOptions filter the audit log.
type AuditOptions struct {
	Actor      string
	Action     string
	TargetType string
	TargetID   string
	Since      time.Time
	Limit      int
}

// ListAudit lists audit entries, newest first.
func (c *Client) ListAudit(ctx context.Context, opts AuditOptions) ([]api.AuditEntryResponse, error) {
	q := url.Values{}
	setIf(q, "actor", opts.Actor)
	setIf(q, "action", opts.Action)
	setIf(q, "target_type", opts.TargetType)
	setIf(q, "target_id", opts.TargetID)
	if !opts.Since.IsZero() {
		q.Set("since", opts.Since.UTC().Format(time.RFC3339))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}

	var out struct {
		Entries []api.AuditEntryResponse `json:"entries"`
	}
	if err := c.do(ctx, http.MethodGet, withQuery("/v1/audit", q), nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}
