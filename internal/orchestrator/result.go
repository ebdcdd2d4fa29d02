// ABOUTME: Response shapes of an execute invocation: blocked or attempted
// ABOUTME: Result marshals to whichever shape applies

package orchestrator

import (
	"encoding/json"
	"errors"

	"github.com/2389/wrap-gateway/internal/action"
	"github.com/2389/wrap-gateway/internal/policy"
)

// ErrInProgress is returned when another invocation is executing the same record.
var ErrInProgress = errors.New("action is already executing")

// Blocked is returned when the gate refuses. It is a successful outcome.
type Blocked struct {
	Blocked bool          `json:"blocked"`
	Reason  policy.Reason `json:"reason"`
}

// Attempt describes a dispatch attempt. Sent=false with Error set is a
// provider failure, which is still a successful gateway invocation.
type Attempt struct {
	OK                bool           `json:"ok"`
	Sent              bool           `json:"sent"`
	Channel           action.Channel `json:"channel"`
	ActionType        action.Type    `json:"action_type"`
	Provider          string         `json:"provider"`
	ProviderReceiptID *string        `json:"provider_receipt_id"`
	Error             *string        `json:"error"`
	// Duplicate is set when the record was already terminal and nothing was
	// dispatched; the fields echo its latest receipt.
	Duplicate bool `json:"duplicate,omitempty"`
}

// Result is exactly one of Blocked or Attempt.
type Result struct {
	Blocked *Blocked
	Attempt *Attempt
}

func blockedResult(r policy.Reason) *Result {
	return &Result{Blocked: &Blocked{Blocked: true, Reason: r}}
}

// MarshalJSON renders the populated shape.
func (r *Result) MarshalJSON() ([]byte, error) {
	if r.Blocked != nil {
		return json.Marshal(r.Blocked)
	}
	return json.Marshal(r.Attempt)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
