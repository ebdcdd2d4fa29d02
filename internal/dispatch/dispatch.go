// ABOUTME: Channel dispatcher contract shared by the social DM, email, website and content adapters
// ABOUTME: Dispatchers are stateless: payload and credentials in, provider result out, no store access

package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/2389/wrap-gateway/internal/action"
)

// Credential names looked up in the channel credential store.
const (
	CredentialAccessToken = "access_token"
	CredentialUserID      = "user_id"
)

const defaultHTTPTimeout = 30 * time.Second

// Credentials are the resolved provider secrets for one dispatch.
type Credentials struct {
	AccessToken string
	UserID      string
}

// Result is what a dispatcher reports back about one provider call.
// Error carries the provider's own text and is empty on success.
type Result struct {
	Success           bool
	Provider          string
	ProviderReceiptID string
	Error             string
	Output            map[string]any // rendered content, set by the content dispatcher only
}

// Failed builds an unsuccessful result.
func Failed(provider, msg string) Result {
	return Result{Provider: provider, Error: msg}
}

// Dispatcher turns a validated payload into one provider call.
type Dispatcher interface {
	// Provider names the provider recorded on receipts.
	Provider() string
	// Preflight checks everything that can be known before the call. A
	// non-nil error is always an *action.ValidationError.
	Preflight(p action.Payload, creds Credentials) error
	// Dispatch performs the call. Provider failures are reported in the
	// Result, never as a panic.
	Dispatch(ctx context.Context, p action.Payload, creds Credentials) Result
}

// Registry maps action types to their dispatcher.
type Registry map[action.Type]Dispatcher

// For returns the dispatcher registered for t.
func (r Registry) For(t action.Type) (Dispatcher, error) {
	d, ok := r[t]
	if !ok {
		return nil, fmt.Errorf("no dispatcher registered for %s", t)
	}
	return d, nil
}

func newHTTPClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: defaultHTTPTimeout}
}

// expect asserts the payload variant a dispatcher was handed.
func expect[T action.Payload](p action.Payload, want action.Type) (T, error) {
	v, ok := p.(T)
	if !ok {
		var zero T
		got := action.Type("nil")
		if p != nil {
			got = p.Type()
		}
		return zero, action.Invalid(want, "dispatcher for %s cannot send %s", want, got)
	}
	return v, nil
}
