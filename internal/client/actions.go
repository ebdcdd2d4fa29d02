// ABOUTME: Client calls for action records and the execute flow
// ABOUTME: ExecuteResult covers both the blocked and the attempt response shapes

package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/2389/wrap-gateway/internal/action"
	"github.com/2389/wrap-gateway/internal/api"
	"github.com/2389/wrap-gateway/internal/orchestrator"
)

// ExecuteResult is the body of POST /v1/actions/execute. When Blocked is
// set only Reason is meaningful; otherwise the attempt fields are.
type ExecuteResult struct {
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason,omitempty"`
	orchestrator.Attempt
}

// Execute runs the execute flow for an action record.
func (c *Client) Execute(ctx context.Context, actionID string) (*ExecuteResult, error) {
	var out ExecuteResult
	if err := c.do(ctx, http.MethodPost, "/v1/actions/execute", api.ExecuteRequest{ActionID: actionID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateActionParams describes a new action record.
type CreateActionParams struct {
	ConversationID string
	OrganizationID string
	ActionType     action.Type
	// Status is pending when empty. Creating an approved record needs the
	// operator role.
	Status  action.Status
	Payload json.RawMessage
}

// CreateAction stores a new action record.
func (c *Client) CreateAction(ctx context.Context, p CreateActionParams) (*api.ActionResponse, error) {
	req := api.CreateActionRequest{
		ConversationID: p.ConversationID,
		OrganizationID: p.OrganizationID,
		ActionType:     p.ActionType,
		Status:         p.Status,
		Payload:        p.Payload,
	}
	var out api.ActionResponse
	if err := c.do(ctx, http.MethodPost, "/v1/actions", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAction reads one action record.
func (c *Client) GetAction(ctx context.Context, id string) (*api.ActionResponse, error) {
	var out api.ActionResponse
	if err := c.do(ctx, http.MethodGet, "/v1/actions/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListActions lists action records, newest first.
func (c *Client) ListActions(ctx context.Context, opts ListOptions) ([]api.ActionResponse, error) {
	var out struct {
		Actions []api.ActionResponse `json:"actions"`
	}
	if err := c.do(ctx, http.MethodGet, withQuery("/v1/actions", opts.query()), nil, &out); err != nil {
		return nil, err
	}
	return out.Actions, nil
}

// ApproveAction moves a pending record to approved.
func (c *Client) ApproveAction(ctx context.Context, id string) (*api.ActionResponse, error) {
	var out api.ActionResponse
	if err := c.do(ctx, http.MethodPost, "/v1/actions/"+url.PathEscape(id)+"/approve", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
