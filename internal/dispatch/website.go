// ABOUTME: Website reply dispatcher for the internal chat widget channel
// ABOUTME: There is no network call; the outbound message row is the delivery

package dispatch

import (
	"context"

	"github.com/2389/wrap-gateway/internal/action"
)

// ProviderWebsite is the receipt provider name for website replies.
const ProviderWebsite = "website"

// Website accepts any valid website reply.
type Website struct{}

// Provider returns "website".
func (Website) Provider() string { return ProviderWebsite }

// Preflight checks the payload variant.
func (Website) Preflight(p action.Payload, _ Credentials) error {
	_, err := expect[*action.WebsiteReply](p, action.TypeWebsiteReply)
	return err
}

// Dispatch always succeeds.
func (Website) Dispatch(_ context.Context, p action.Payload, _ Credentials) Result {
	if _, err := expect[*action.WebsiteReply](p, action.TypeWebsiteReply); err != nil {
		return Failed(ProviderWebsite, err.Error())
	}
	return Result{Success: true, Provider: ProviderWebsite}
}
