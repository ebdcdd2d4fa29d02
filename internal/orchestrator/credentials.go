// ABOUTME: Resolves channel credentials for a dispatch from the credential store
// ABOUTME: Organization overrides win over global rows, which win over configured fallbacks

package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/wrap-gateway/internal/action"
	"github.com/2389/wrap-gateway/internal/dispatch"
	"github.com/2389/wrap-gateway/internal/store"
)

// CredentialResolver supplies the credentials a dispatcher needs.
type CredentialResolver interface {
	Resolve(ctx context.Context, channel action.Channel, organizationID string) (dispatch.Credentials, error)
}

// StoreCredentials resolves from the credential store, falling back to
// values from config or the environment.
type StoreCredentials struct {
	Store    store.CredentialStore
	Fallback map[action.Channel]dispatch.Credentials
}

// Resolve looks up access_token and user_id for the channel.
func (s StoreCredentials) Resolve(ctx context.Context, channel action.Channel, organizationID string) (dispatch.Credentials, error) {
	creds := s.Fallback[channel]

	if s.Store == nil {
		return creds, nil
	}

	token, err := s.lookup(ctx, channel, dispatch.CredentialAccessToken, organizationID)
	if err != nil {
		return dispatch.Credentials{}, err
	}
	if token != "" {
		creds.AccessToken = token
	}

	userID, err := s.lookup(ctx, channel, dispatch.CredentialUserID, organizationID)
	if err != nil {
		return dispatch.Credentials{}, err
	}
	if userID != "" {
		creds.UserID = userID
	}
	return creds, nil
}

func (s StoreCredentials) lookup(ctx context.Context, channel action.Channel, name, organizationID string) (string, error) {
	c, err := s.Store.GetCredential(ctx, channel, name, organizationID)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("resolving %s/%s credential: %w", channel, name, err)
	}
	return c.Value, nil
}
