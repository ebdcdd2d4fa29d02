// ABOUTME: Gateway orchestrator: gate a stored action, claim it, dispatch it once and record the outcome
// ABOUTME: Post-dispatch persistence runs as independent steps so one failure never skips the rest

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/wrap-gateway/internal/action"
	"github.com/2389/wrap-gateway/internal/dedupe"
	"github.com/2389/wrap-gateway/internal/dispatch"
	"github.com/2389/wrap-gateway/internal/events"
	"github.com/2389/wrap-gateway/internal/policy"
	"github.com/2389/wrap-gateway/internal/store"
)

// DefaultTimeout bounds a provider call when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Config holds the collaborators of an Orchestrator.
type Config struct {
	Store       store.Store
	Modes       policy.ModeSource
	Dispatchers dispatch.Registry
	Credentials CredentialResolver // defaults to StoreCredentials over Store
	Publisher   events.Publisher   // defaults to events.Nop
	InFlight    *dedupe.InFlight   // optional in-process duplicate suppression
	Timeout     time.Duration
	Logger      *slog.Logger
}

// Orchestrator executes Action Records.
type Orchestrator struct {
	store       store.Store
	modes       policy.ModeSource
	dispatchers dispatch.Registry
	creds       CredentialResolver
	publisher   events.Publisher
	inflight    *dedupe.InFlight
	timeout     time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// New creates an Orchestrator. Store and Modes are required.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, errors.New("orchestrator: store is required")
	}
	if cfg.Modes == nil {
		return nil, errors.New("orchestrator: mode source is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	creds := cfg.Credentials
	if creds == nil {
		creds = StoreCredentials{Store: cfg.Store}
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.Nop{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Orchestrator{
		store:       cfg.Store,
		modes:       cfg.Modes,
		dispatchers: cfg.Dispatchers,
		creds:       creds,
		publisher:   publisher,
		inflight:    cfg.InFlight,
		timeout:     timeout,
		logger:      logger.With("component", "orchestrator"),
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// Execute runs one Action Record through the gate and, if allowed, its
// dispatcher. triggeredBy is recorded on the receipt.
//
// Returned errors: store.ErrNotFound (wrapped) for an unknown id,
// *action.ValidationError for a payload or credential problem, ErrInProgress
// when another invocation holds the record, anything else is infrastructure.
func (o *Orchestrator) Execute(ctx context.Context, actionID, triggeredBy string) (*Result, error) {
	if o.inflight != nil {
		if !o.inflight.TryAcquire(actionID) {
			return nil, ErrInProgress
		}
		defer o.inflight.Release(actionID)
	}

	rec, err := o.store.GetAction(ctx, actionID)
	if err != nil {
		return nil, fmt.Errorf("loading action %s: %w", actionID, err)
	}

	mode, err := o.modes.OperatingMode(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading operating mode: %w", err)
	}
	// OFF answers for every record, including terminal and executing ones.
	if d := policy.Evaluate(mode, nil, rec.Status); d.Reason == policy.ReasonModeOff {
		o.logger.Debug("action blocked", "action_id", rec.ID, "mode", mode, "reason", d.Reason)
		return blockedResult(d.Reason), nil
	}

	switch {
	case rec.Status.Terminal():
		return o.replay(ctx, rec)
	case rec.Status == action.StatusExecuting:
		return nil, ErrInProgress
	}
	pc, err := store.PolicyContext(ctx, o.store, rec.ConversationID)
	if err != nil {
		return nil, err
	}

	decision := policy.Evaluate(mode, pc, rec.Status)
	if !decision.Allowed {
		o.logger.Debug("action blocked",
			"action_id", rec.ID,
			"action_type", rec.ActionType,
			"mode", mode,
			"reason", decision.Reason,
		)
		return blockedResult(decision.Reason), nil
	}

	payload, err := action.Decode(rec.ActionType, rec.Payload)
	if err != nil {
		return nil, err
	}

	d, err := o.dispatchers.For(rec.ActionType)
	if err != nil {
		return nil, action.Invalid(rec.ActionType, "channel %s is not configured", rec.Channel)
	}

	creds, err := o.creds.Resolve(ctx, rec.Channel, rec.OrganizationID)
	if err != nil {
		return nil, err
	}
	if err := d.Preflight(payload, creds); err != nil {
		return nil, err
	}

	if err := o.store.ClaimAction(ctx, rec.ID, rec.Version, o.now()); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return o.afterLostClaim(ctx, rec.ID)
		}
		return nil, fmt.Errorf("claiming action %s: %w", rec.ID, err)
	}

	res := o.dispatch(ctx, d, payload, creds)
	if res.Success {
		o.logger.Info("action sent",
			"action_id", rec.ID,
			"action_type", rec.ActionType,
			"provider", res.Provider,
			"provider_receipt_id", res.ProviderReceiptID,
		)
	} else {
		o.logger.Warn("provider call failed",
			"action_id", rec.ID,
			"action_type", rec.ActionType,
			"provider", res.Provider,
			"error", res.Error,
		)
	}

	// The outcome is recorded even when the caller has gone away.
	if err := o.record(context.WithoutCancel(ctx), rec, payload, &res, triggeredBy); err != nil {
		return nil, err
	}

	return &Result{Attempt: &Attempt{
		OK:                true,
		Sent:              res.Success,
		Channel:           rec.Channel,
		ActionType:        rec.ActionType,
		Provider:          res.Provider,
		ProviderReceiptID: optional(res.ProviderReceiptID),
		Error:             optional(res.Error),
	}}, nil
}

// dispatch runs the provider call in its own goroutine and gives up on it
// after the configured timeout.
func (o *Orchestrator) dispatch(ctx context.Context, d dispatch.Dispatcher, p action.Payload, creds dispatch.Credentials) dispatch.Result {
	dctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	done := make(chan dispatch.Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- dispatch.Failed(d.Provider(), fmt.Sprintf("dispatcher panic: %v", r))
			}
		}()
		done <- d.Dispatch(dctx, p, creds)
	}()

	var res dispatch.Result
	select {
	case res = <-done:
	case <-dctx.Done():
		res = dispatch.Failed(d.Provider(), dctx.Err().Error())
	}

	if !res.Success && errors.Is(dctx.Err(), context.DeadlineExceeded) {
		res.Error = fmt.Sprintf("timeout: provider call exceeded %s", o.timeout)
	}
	if res.Provider == "" {
		res.Provider = d.Provider()
	}
	return res
}

// afterLostClaim answers an invocation whose claim lost to another writer.
func (o *Orchestrator) afterLostClaim(ctx context.Context, id string) (*Result, error) {
	rec, err := o.store.GetAction(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reloading action %s: %w", id, err)
	}
	if rec.Status.Terminal() {
		return o.replay(ctx, rec)
	}
	return nil, ErrInProgress
}

// replay answers for a record that already reached a terminal status. Nothing
// is dispatched; the latest receipt fills in provider details.
func (o *Orchestrator) replay(ctx context.Context, rec *store.Action) (*Result, error) {
	a := &Attempt{
		OK:         true,
		Sent:       rec.Status == action.StatusSent,
		Channel:    rec.Channel,
		ActionType: rec.ActionType,
		Duplicate:  true,
	}

	receipts, err := o.store.ListReceipts(ctx, store.ListFilter{SourceID: rec.ID, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("loading receipt for action %s: %w", rec.ID, err)
	}
	if len(receipts) > 0 {
		a.Provider = receipts[0].Provider
		a.ProviderReceiptID = receipts[0].ProviderReceiptID
		a.Error = receipts[0].Error
	}

	o.logger.Debug("action already finished", "action_id", rec.ID, "status", rec.Status)
	return &Result{Attempt: a}, nil
}
