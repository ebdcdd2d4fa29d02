// ABOUTME: Post-dispatch persistence steps: outbound message, receipt, final status, job sync, event
// ABOUTME: Every step is attempted; receipt and status failures make the invocation fail

package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/wrap-gateway/internal/action"
	"github.com/2389/wrap-gateway/internal/dispatch"
	"github.com/2389/wrap-gateway/internal/store"
)

// step is one independently fallible piece of post-dispatch persistence.
// A failed critical step turns the invocation into an infrastructure error.
type step struct {
	name     string
	critical bool
	run      func(ctx context.Context) error
}

// record runs the steps in order and joins the critical failures. A website
// reply is only delivered once its message row exists, so a failed write
// turns res into a failure before the receipt and status are written.
func (o *Orchestrator) record(ctx context.Context, rec *store.Action, p action.Payload, res *dispatch.Result, triggeredBy string) error {
	var receipt *store.Receipt

	steps := []step{
		{
			name: "outbound_message",
			run: func(ctx context.Context) error {
				if !rec.ActionType.HasOutboundMessage() {
					return nil
				}
				err := o.store.SaveOutboundMessage(ctx, newOutboundMessage(rec, p, *res))
				if err != nil && rec.ActionType == action.TypeWebsiteReply && res.Success {
					res.Success = false
					res.Error = fmt.Sprintf("persisting website reply: %v", err)
				}
				return err
			},
		},
		{
			name:     "receipt",
			critical: true,
			run: func(ctx context.Context) error {
				r := o.newReceipt(rec, *res, triggeredBy)
				if err := o.store.AppendReceipt(ctx, r); err != nil {
					return err
				}
				receipt = r
				return nil
			},
		},
		{
			name:     "final_status",
			critical: true,
			run: func(ctx context.Context) error {
				return o.store.FinishAction(ctx, rec.ID, finalStatus(*res), o.now())
			},
		},
		{
			name: "content_job",
			run: func(ctx context.Context) error {
				cr, ok := p.(*action.ContentRender)
				if !ok || cr.JobID == "" {
					return nil
				}
				return o.syncContentJob(ctx, cr.JobID, rec.ID, *res)
			},
		},
		{
			name: "event",
			run: func(ctx context.Context) error {
				if receipt == nil {
					return nil
				}
				return o.publisher.PublishReceipt(ctx, receipt)
			},
		},
	}

	var failed []error
	for _, s := range steps {
		err := s.run(ctx)
		if err == nil {
			continue
		}
		if s.critical {
			o.logger.Error("post-dispatch step failed", "step", s.name, "action_id", rec.ID, "error", err)
			failed = append(failed, fmt.Errorf("%s: %w", s.name, err))
			continue
		}
		o.logger.Warn("post-dispatch step failed", "step", s.name, "action_id", rec.ID, "error", err)
	}

	if len(failed) > 0 {
		return fmt.Errorf("recording execution of action %s: %w", rec.ID, errors.Join(failed...))
	}
	return nil
}

func (o *Orchestrator) newReceipt(rec *store.Action, res dispatch.Result, triggeredBy string) *store.Receipt {
	status := store.ReceiptSent
	if !res.Success {
		status = store.ReceiptFailed
	}
	return &store.Receipt{
		SourceTable:       store.SourceActions,
		SourceID:          rec.ID,
		ConversationID:    rec.ConversationID,
		OrganizationID:    rec.OrganizationID,
		Channel:           rec.Channel,
		ActionType:        rec.ActionType,
		Status:            status,
		Provider:          res.Provider,
		ProviderReceiptID: optional(res.ProviderReceiptID),
		PayloadSnapshot:   rec.Payload,
		Error:             optional(res.Error),
		TriggeredBy:       triggeredBy,
		CreatedAt:         o.now(),
	}
}

func newOutboundMessage(rec *store.Action, p action.Payload, res dispatch.Result) *store.OutboundMessage {
	delivery := store.DeliverySent
	if !res.Success {
		delivery = store.DeliveryFailed
	}

	meta := map[string]any{
		"provider":            res.Provider,
		"provider_receipt_id": optional(res.ProviderReceiptID),
		"action_type":         string(rec.ActionType),
	}
	if res.Error != "" {
		meta["error"] = res.Error
	}
	switch v := p.(type) {
	case *action.DMSend:
		meta["recipient_id"] = v.RecipientID
	case *action.EmailSend:
		meta["to"] = v.To
		meta["subject"] = v.Subject
	case *action.WebsiteReply:
		if v.VisitorID != "" {
			meta["visitor_id"] = v.VisitorID
		}
	}

	return &store.OutboundMessage{
		ActionID:       rec.ID,
		ConversationID: rec.ConversationID,
		OrganizationID: rec.OrganizationID,
		Channel:        rec.Channel,
		Direction:      "outbound",
		Content:        p.Body(),
		DeliveryStatus: delivery,
		Metadata:       meta,
	}
}

func (o *Orchestrator) syncContentJob(ctx context.Context, jobID, actionID string, res dispatch.Result) error {
	job, err := o.store.GetContentJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("loading content job %s: %w", jobID, err)
	}

	job.AIActionID = actionID
	if res.Success {
		job.Status = store.JobCompleted
		job.UsedFn = res.Provider
		job.Result = res.Output
		job.Error = ""
	} else {
		job.Status = store.JobFailed
		job.Error = res.Error
	}
	return o.store.UpdateContentJob(ctx, job)
}

func finalStatus(res dispatch.Result) action.Status {
	if res.Success {
		return action.StatusSent
	}
	return action.StatusFailed
}
