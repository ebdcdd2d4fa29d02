// ABOUTME: Gating rules deciding whether a proposed action may fire
// ABOUTME: Combines the operating mode with per-conversation policy flags, first match wins

package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/2389/wrap-gateway/internal/action"
)

// Mode is the process-wide operating mode.
type Mode string

const (
	ModeLive   Mode = "LIVE"
	ModeManual Mode = "MANUAL"
	ModeOff    Mode = "OFF"
)

// Modes lists every operating mode.
var Modes = []Mode{ModeLive, ModeManual, ModeOff}

// ParseMode parses a mode name case-insensitively.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToUpper(strings.TrimSpace(s)))
	switch m {
	case ModeLive, ModeManual, ModeOff:
		return m, nil
	}
	return "", fmt.Errorf("unknown operating mode %q (want LIVE, MANUAL or OFF)", s)
}

// Context holds the per-conversation gating flags.
type Context struct {
	AIPaused         bool `json:"ai_paused"`
	ApprovalRequired bool `json:"approval_required"`
	AutopilotAllowed bool `json:"autopilot_allowed"`
}

// DefaultContext returns the flags of a conversation nobody configured.
func DefaultContext() Context {
	return Context{ApprovalRequired: true}
}

// CanAutoSend reports whether actions may fire without explicit approval.
func (c Context) CanAutoSend() bool {
	return !c.ApprovalRequired || c.AutopilotAllowed
}

// Reason is the machine-readable code of a blocked decision.
type Reason string

const (
	ReasonModeOff                Reason = "mode_off"
	ReasonConversationPaused     Reason = "conversation_paused"
	ReasonManualRequiresApproval Reason = "manual_requires_approval"
	ReasonLiveRequiresApproval   Reason = "live_requires_approval"
)

// Decision is the outcome of Evaluate.
type Decision struct {
	Allowed bool
	Reason  Reason
}

func block(r Reason) Decision { return Decision{Reason: r} }

// Evaluate applies the gating rules in order. A nil pc means the action has
// no conversation, so only the operating mode applies.
//
// Rules:
//  1. OFF blocks everything.
//  2. A paused conversation blocks everything.
//  3. MANUAL requires an approved record.
//  4. LIVE requires an approved record unless the conversation can auto-send.
//
// An unrecognized mode fails closed as if it were OFF.
func Evaluate(mode Mode, pc *Context, status action.Status) Decision {
	switch mode {
	case ModeOff:
		return block(ReasonModeOff)
	case ModeManual, ModeLive:
	default:
		return block(ReasonModeOff)
	}

	if pc != nil && pc.AIPaused {
		return block(ReasonConversationPaused)
	}

	approved := status == action.StatusApproved

	if mode == ModeManual && !approved {
		return block(ReasonManualRequiresApproval)
	}

	if mode == ModeLive && pc != nil && !pc.CanAutoSend() && !approved {
		return block(ReasonLiveRequiresApproval)
	}

	return Decision{Allowed: true}
}

// ErrModeUnset is returned by a ModeSource that has no stored mode.
var ErrModeUnset = errors.New("operating mode not set")

// ModeSource supplies the current operating mode.
type ModeSource interface {
	OperatingMode(ctx context.Context) (Mode, error)
}

// FixedMode is a ModeSource that always returns the same mode.
type FixedMode Mode

func (m FixedMode) OperatingMode(context.Context) (Mode, error) {
	return Mode(m), nil
}

// WithDefault wraps a ModeSource and substitutes Default when the source
// reports ErrModeUnset.
type WithDefault struct {
	Source  ModeSource
	Default Mode
}

func (w WithDefault) OperatingMode(ctx context.Context) (Mode, error) {
	if w.Source == nil {
		return w.Default, nil
	}
	m, err := w.Source.OperatingMode(ctx)
	if errors.Is(err, ErrModeUnset) {
		return w.Default, nil
	}
	if err != nil {
		return "", err
	}
	return m, nil
}
