// ABOUTME: Content dispatcher that runs approved content_render records through the render chain
// ABOUTME: Reports the strategy that succeeded as the provider and its output for job sync

package render

import (
	"context"

	"github.com/2389/wrap-gateway/internal/action"
	"github.com/2389/wrap-gateway/internal/dispatch"
)

// Dispatcher adapts a Chain to dispatch.Dispatcher.
type Dispatcher struct {
	chain *Chain
}

// NewDispatcher creates a content dispatcher.
func NewDispatcher(chain *Chain) *Dispatcher {
	if chain == nil {
		chain = FirstSuccess()
	}
	return &Dispatcher{chain: chain}
}

// Provider returns "render".
func (d *Dispatcher) Provider() string { return ProviderRender }

// Preflight checks the payload variant and that there is something to try.
func (d *Dispatcher) Preflight(p action.Payload, _ dispatch.Credentials) error {
	if _, ok := p.(*action.ContentRender); !ok {
		return action.Invalid(action.TypeContentRender, "content dispatcher cannot render this payload")
	}
	if len(d.chain.strategies) == 0 {
		return action.Invalid(action.TypeContentRender, "%v", ErrNoStrategies)
	}
	return nil
}

// Dispatch runs the chain.
func (d *Dispatcher) Dispatch(ctx context.Context, p action.Payload, _ dispatch.Credentials) dispatch.Result {
	cr, ok := p.(*action.ContentRender)
	if !ok {
		return dispatch.Failed(ProviderRender, "content dispatcher cannot render this payload")
	}

	out, err := d.chain.Render(ctx, Request{
		JobID:        cr.JobID,
		Text:         cr.Text,
		Instructions: cr.Instructions,
	})
	if err != nil {
		return dispatch.Failed(ProviderRender, err.Error())
	}
	return dispatch.Result{
		Success:  true,
		Provider: out.UsedFn,
		Output:   out.Result,
	}
}
