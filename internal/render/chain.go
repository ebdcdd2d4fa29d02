// ABOUTME: First-success combinator over render strategies
// ABOUTME: Tries each strategy in order and records which one produced the output

package render

import (
	"context"
	"errors"
	"fmt"
)

// Request is what a strategy renders.
type Request struct {
	JobID          string         `json:"job_id,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	OrganizationID string         `json:"organization_id,omitempty"`
	Text           string         `json:"text"`
	Instructions   map[string]any `json:"instructions,omitempty"`
}

// Strategy is one way of turning a request into finished content.
type Strategy interface {
	Name() string
	Render(ctx context.Context, req Request) (map[string]any, error)
}

// Output is the result of a successful chain run.
type Output struct {
	UsedFn string
	Result map[string]any
}

// Chain is an ordered list of strategies.
type Chain struct {
	strategies []Strategy
}

// ErrNoStrategies is returned by a chain with nothing to try.
var ErrNoStrategies = errors.New("no render strategies configured")

// FirstSuccess builds a chain that returns the first strategy output that
// does not fail. Nil strategies are skipped.
func FirstSuccess(strategies ...Strategy) *Chain {
	c := &Chain{}
	for _, s := range strategies {
		if s != nil {
			c.strategies = append(c.strategies, s)
		}
	}
	return c
}

// Names lists the strategies in the order they are tried.
func (c *Chain) Names() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name()
	}
	return names
}

// Render runs the strategies in order. When every strategy fails the
// returned error joins each failure.
func (c *Chain) Render(ctx context.Context, req Request) (Output, error) {
	if len(c.strategies) == 0 {
		return Output{}, ErrNoStrategies
	}

	var errs []error
	for _, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		result, err := s.Render(ctx, req)
		if err == nil {
			if result == nil {
				result = map[string]any{}
			}
			return Output{UsedFn: s.Name(), Result: result}, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
	}
	return Output{}, errors.Join(errs...)
}
