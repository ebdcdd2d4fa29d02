// ABOUTME: Client calls for conversation policies, the operating mode and channel credentials
// ABOUTME: These are the operator writes that land in the audit log

package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/2389/wrap-gateway/internal/action"
	"github.com/2389/wrap-gateway/internal/api"
	"github.com/2389/wrap-gateway/internal/policy"
)

// GetPolicy reads the policy of a conversation. Conversations nobody
// configured come back with the defaults and Stored unset.
func (c *Client) GetPolicy(ctx context.Context, conversationID string) (*api.PolicyResponse, error) {
	var out api.PolicyResponse
	if err := c.do(ctx, http.MethodGet, "/v1/policies/"+url.PathEscape(conversationID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PutPolicy updates the flags set in req and keeps the rest.
func (c *Client) PutPolicy(ctx context.Context, conversationID string, req api.PutPolicyRequest) (*api.PolicyResponse, error) {
	var out api.PolicyResponse
	if err := c.do(ctx, http.MethodPut, "/v1/policies/"+url.PathEscape(conversationID), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetMode reads the operating mode.
func (c *Client) GetMode(ctx context.Context) (*api.ModeResponse, error) {
	var out api.ModeResponse
	if err := c.do(ctx, http.MethodGet, "/v1/mode", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetMode stores the operating mode.
func (c *Client) SetMode(ctx context.Context, mode policy.Mode) (*api.ModeResponse, error) {
	var out api.ModeResponse
	if err := c.do(ctx, http.MethodPut, "/v1/mode", api.ModeRequest{Mode: string(mode)}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func credentialPath(channel action.Channel, name string) string {
	return "/v1/credentials/" + url.PathEscape(string(channel)) + "/" + url.PathEscape(name)
}

// PutCredential stores a channel credential. The gateway never returns the
// value again.
func (c *Client) PutCredential(ctx context.Context, channel action.Channel, name, value, organizationID string) error {
	req := api.PutCredentialRequest{Value: value, OrganizationID: organizationID}
	return c.do(ctx, http.MethodPut, credentialPath(channel, name), req, nil)
}

// DeleteCredential removes a channel credential.
func (c *Client) DeleteCredential(ctx context.Context, channel action.Channel, name, organizationID string) error {
	q := url.Values{}
	setIf(q, "organization_id", organizationID)
	return c.do(ctx, http.MethodDelete, withQuery(credentialPath(channel, name), q), nil, nil)
}
