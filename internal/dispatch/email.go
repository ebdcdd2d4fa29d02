// ABOUTME: Email dispatcher for Resend-compatible transactional email APIs
// ABOUTME: Renders the Markdown body to HTML with goldmark and copies provider errors verbatim

package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/2389/wrap-gateway/internal/action"
)

const (
	// ProviderResend is the receipt provider name for email.
	ProviderResend = "resend"

	// DefaultSender is used when neither the payload nor the config names one.
	DefaultSender = "Wrap Studio <no-reply@localhost>"

	defaultResendBaseURL = "https://api.resend.com"
)

// Email sends transactional email.
type Email struct {
	baseURL    string
	sender     string
	httpClient *http.Client
	markdown   goldmark.Markdown
}

// NewEmail creates an email dispatcher. An empty sender falls back to DefaultSender.
func NewEmail(baseURL, sender string, client *http.Client) *Email {
	if baseURL == "" {
		baseURL = defaultResendBaseURL
	}
	if strings.TrimSpace(sender) == "" {
		sender = DefaultSender
	}
	return &Email{
		baseURL:    strings.TrimRight(baseURL, "/"),
		sender:     sender,
		httpClient: newHTTPClient(client),
		markdown:   goldmark.New(goldmark.WithExtensions(extension.GFM, extension.Linkify)),
	}
}

// Provider returns "resend".
func (e *Email) Provider() string { return ProviderResend }

// Preflight requires a recipient, a subject and an API key.
func (e *Email) Preflight(p action.Payload, creds Credentials) error {
	msg, err := expect[*action.EmailSend](p, action.TypeEmailSend)
	if err != nil {
		return err
	}
	if strings.TrimSpace(msg.To) == "" {
		return action.Invalid(action.TypeEmailSend, "to is required")
	}
	if strings.TrimSpace(msg.Subject) == "" {
		return action.Invalid(action.TypeEmailSend, "subject is required")
	}
	if creds.AccessToken == "" {
		return action.Invalid(action.TypeEmailSend, "no email api key is configured")
	}
	return nil
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Text    string   `json:"text"`
	ReplyTo string   `json:"reply_to,omitempty"`
}

type resendResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	Name    string `json:"name"`
}

// Sender returns the from address used when the payload names none.
func (e *Email) Sender() string { return e.sender }

// Dispatch posts the email to {base}/emails.
func (e *Email) Dispatch(ctx context.Context, p action.Payload, creds Credentials) Result {
	msg, err := expect[*action.EmailSend](p, action.TypeEmailSend)
	if err != nil {
		return Failed(ProviderResend, err.Error())
	}

	html := msg.HTML
	if html == "" {
		var buf bytes.Buffer
		if err := e.markdown.Convert([]byte(msg.Text), &buf); err != nil {
			return Failed(ProviderResend, fmt.Sprintf("rendering markdown: %v", err))
		}
		html = buf.String()
	}

	from := msg.From
	if from == "" {
		from = e.sender
	}

	data, err := json.Marshal(resendRequest{
		From:    from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    html,
		Text:    msg.Text,
		ReplyTo: msg.ReplyTo,
	})
	if err != nil {
		return Failed(ProviderResend, fmt.Sprintf("marshaling request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/emails", bytes.NewReader(data))
	if err != nil {
		return Failed(ProviderResend, fmt.Sprintf("creating request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return Failed(ProviderResend, err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Failed(ProviderResend, fmt.Sprintf("reading response: %v", err))
	}

	var out resendResponse
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode >= 300 {
		if decodeErr == nil && out.Message != "" {
			return Failed(ProviderResend, out.Message)
		}
		return Failed(ProviderResend, fmt.Sprintf("email provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}
	if decodeErr != nil {
		return Failed(ProviderResend, fmt.Sprintf("decoding response: %v", decodeErr))
	}

	return Result{
		Success:           true,
		Provider:          ProviderResend,
		ProviderReceiptID: out.ID,
	}
}
