// ABOUTME: Social DM dispatcher for Graph-style messaging APIs
// ABOUTME: Always sends as the authenticated identity via /me/messages, never an explicit account id

package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/2389/wrap-gateway/internal/action"
)

const (
	// ProviderGraph is the receipt provider name for Graph DMs.
	ProviderGraph = "graph"

	defaultGraphBaseURL = "https://graph.facebook.com/v19.0"
)

// GraphDM sends direct messages through a Graph messaging endpoint.
type GraphDM struct {
	baseURL    string
	httpClient *http.Client
}

// NewGraphDM creates a Graph DM dispatcher. An empty baseURL uses the public API.
func NewGraphDM(baseURL string, client *http.Client) *GraphDM {
	if baseURL == "" {
		baseURL = defaultGraphBaseURL
	}
	return &GraphDM{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newHTTPClient(client),
	}
}

// Provider returns "graph".
func (g *GraphDM) Provider() string { return ProviderGraph }

// Preflight requires a recipient and an access token.
func (g *GraphDM) Preflight(p action.Payload, creds Credentials) error {
	dm, err := expect[*action.DMSend](p, action.TypeDMSend)
	if err != nil {
		return err
	}
	if strings.TrimSpace(dm.RecipientID) == "" {
		return action.Invalid(action.TypeDMSend, "recipient_id is required")
	}
	if creds.AccessToken == "" {
		return action.Invalid(action.TypeDMSend, "no social_dm access token is configured")
	}
	return nil
}

type graphSendRequest struct {
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	MessagingType string `json:"messaging_type"`
	Message       struct {
		Text string `json:"text"`
	} `json:"message"`
}

type graphSendResponse struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
	Error       *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Dispatch posts the message to {base}/me/messages.
func (g *GraphDM) Dispatch(ctx context.Context, p action.Payload, creds Credentials) Result {
	dm, err := expect[*action.DMSend](p, action.TypeDMSend)
	if err != nil {
		return Failed(ProviderGraph, err.Error())
	}

	var body graphSendRequest
	body.Recipient.ID = dm.RecipientID
	body.MessagingType = "RESPONSE"
	body.Message.Text = dm.Message

	data, err := json.Marshal(body)
	if err != nil {
		return Failed(ProviderGraph, fmt.Sprintf("marshaling request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/me/messages", bytes.NewReader(data))
	if err != nil {
		return Failed(ProviderGraph, fmt.Sprintf("creating request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return Failed(ProviderGraph, err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Failed(ProviderGraph, fmt.Sprintf("reading response: %v", err))
	}

	var out graphSendResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		if resp.StatusCode >= 300 {
			return Failed(ProviderGraph, fmt.Sprintf("graph returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
		}
		return Failed(ProviderGraph, fmt.Sprintf("decoding response: %v", err))
	}
	if out.Error != nil && out.Error.Message != "" {
		return Failed(ProviderGraph, out.Error.Message)
	}
	if resp.StatusCode >= 300 {
		return Failed(ProviderGraph, fmt.Sprintf("graph returned %d", resp.StatusCode))
	}

	return Result{
		Success:           true,
		Provider:          ProviderGraph,
		ProviderReceiptID: out.MessageID,
	}
}
