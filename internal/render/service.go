// ABOUTME: Content-render flow: parse the brief, create a job, then preview, hand off for approval or render
// ABOUTME: Uses the same gate and receipt contract as action execution

package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/wrap-gateway/internal/action"
	"github.com/2389/wrap-gateway/internal/events"
	"github.com/2389/wrap-gateway/internal/policy"
	"github.com/2389/wrap-gateway/internal/store"
)

// ProviderRender is the receipt provider name when no strategy succeeded.
const ProviderRender = "render"

// Modes of a render request.
const (
	ModePreview = "preview"
	ModeExecute = "execute"
)

// RenderRequest is the content-render invocation.
type RenderRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
	RequestedBy    string `json:"requested_by"`
	Agent          string `json:"agent"`
	Text           string `json:"create_content_text"`
	Mode           string `json:"mode"`
}

// Response is the content-render result.
type Response struct {
	OK                bool           `json:"ok"`
	JobID             string         `json:"job_id,omitempty"`
	Parsed            map[string]any `json:"parsed"`
	Preview           bool           `json:"preview,omitempty"`
	QueuedForApproval bool           `json:"queued_for_approval,omitempty"`
	AIActionID        string         `json:"ai_action_id,omitempty"`
	Executed          bool           `json:"executed,omitempty"`
	UsedFn            string         `json:"usedFn,omitempty"`
	ExecResult        map[string]any `json:"execResult,omitempty"`
	Error             string         `json:"error,omitempty"`
	Reason            string         `json:"reason,omitempty"`
}

// ServiceConfig holds the collaborators of a Service.
type ServiceConfig struct {
	Store     store.Store
	Modes     policy.ModeSource
	Chain     *Chain
	Publisher events.Publisher
	Timeout   time.Duration
	Logger    *slog.Logger
}

// Service runs content-render requests.
type Service struct {
	store     store.Store
	modes     policy.ModeSource
	chain     *Chain
	publisher events.Publisher
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a render service.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.Nop{}
	}
	chain := cfg.Chain
	if chain == nil {
		chain = FirstSuccess()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Service{
		store:     cfg.Store,
		modes:     cfg.Modes,
		chain:     chain,
		publisher: publisher,
		timeout:   timeout,
		logger:    logger.With("component", "render"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Render handles one request. Validation problems come back as
// *action.ValidationError; any other error is an infrastructure failure.
func (s *Service) Render(ctx context.Context, req RenderRequest) (*Response, error) {
	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	if mode != ModePreview && mode != ModeExecute {
		return nil, action.Invalid(action.TypeContentRender, "mode must be %q or %q", ModePreview, ModeExecute)
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, action.Invalid(action.TypeContentRender, "create_content_text is required")
	}

	parsed := ParseInstructions(req.Text)
	if parsed.Dropped > 0 {
		s.logger.Warn("instruction lines without a key were dropped",
			"dropped", parsed.Dropped,
			"conversation_id", req.ConversationID,
		)
	}

	job := &store.ContentJob{
		ConversationID:  req.ConversationID,
		OrganizationID:  req.OrganizationID,
		RequestedBy:     req.RequestedBy,
		Agent:           req.Agent,
		Mode:            mode,
		Status:          store.JobPending,
		InstructionText: req.Text,
		Parsed:          parsed.Fields,
	}
	if err := s.store.CreateContentJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating content job: %w", err)
	}

	resp := &Response{JobID: job.ID, Parsed: parsed.Fields}

	if mode == ModePreview {
		job.Status = store.JobCompleted
		if err := s.store.UpdateContentJob(ctx, job); err != nil {
			return nil, fmt.Errorf("completing preview job: %w", err)
		}
		resp.OK = true
		resp.Preview = true
		return resp, nil
	}

	opMode, err := s.modes.OperatingMode(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading operating mode: %w", err)
	}
	pc, err := store.PolicyContext(ctx, s.store, req.ConversationID)
	if err != nil {
		return nil, err
	}

	payload := action.ContentRender{JobID: job.ID, Text: req.Text, Instructions: parsed.Fields}

	decision := policy.Evaluate(opMode, pc, action.StatusPending)
	switch {
	case decision.Allowed:
		return s.execute(ctx, job, &payload, resp)
	case decision.Reason == policy.ReasonManualRequiresApproval || decision.Reason == policy.ReasonLiveRequiresApproval:
		return s.queueForApproval(ctx, job, &payload, decision.Reason, resp)
	default:
		s.logger.Debug("content render blocked", "job_id", job.ID, "reason", decision.Reason)
		job.Status = store.JobFailed
		job.Error = string(decision.Reason)
		if err := s.store.UpdateContentJob(ctx, job); err != nil {
			return nil, fmt.Errorf("failing blocked job: %w", err)
		}
		resp.Error = string(decision.Reason)
		resp.Reason = string(decision.Reason)
		return resp, nil
	}
}

// queueForApproval hands the job to the approval queue as a pending
// content_render Action Record.
func (s *Service) queueForApproval(ctx context.Context, job *store.ContentJob, payload *action.ContentRender, reason policy.Reason, resp *Response) (*Response, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling content_render payload: %w", err)
	}

	rec := &store.Action{
		ConversationID: job.ConversationID,
		OrganizationID: job.OrganizationID,
		ActionType:     action.TypeContentRender,
		Status:         action.StatusPending,
		Payload:        raw,
		CreatedBy:      job.RequestedBy,
	}
	if err := s.store.CreateAction(ctx, rec); err != nil {
		return nil, fmt.Errorf("creating content_render action: %w", err)
	}

	job.Status = store.JobAwaitingApproval
	job.AIActionID = rec.ID
	if err := s.store.UpdateContentJob(ctx, job); err != nil {
		return nil, fmt.Errorf("marking job awaiting approval: %w", err)
	}

	s.logger.Info("content render queued for approval", "job_id", job.ID, "ai_action_id", rec.ID, "reason", reason)
	resp.OK = true
	resp.QueuedForApproval = true
	resp.AIActionID = rec.ID
	resp.Reason = string(reason)
	return resp, nil
}

// execute renders through the chain and records the attempt.
func (s *Service) execute(ctx context.Context, job *store.ContentJob, payload *action.ContentRender, resp *Response) (*Response, error) {
	job.Status = store.JobExecuting
	if err := s.store.UpdateContentJob(ctx, job); err != nil {
		return nil, fmt.Errorf("marking job executing: %w", err)
	}

	snapshot, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling content_render payload: %w", err)
	}

	renderCtx, cancel := context.WithTimeout(ctx, s.timeout)
	out, renderErr := s.chain.Render(renderCtx, Request{
		JobID:          job.ID,
		ConversationID: job.ConversationID,
		OrganizationID: job.OrganizationID,
		Text:           payload.Text,
		Instructions:   payload.Instructions,
	})
	cancel()

	receipt := &store.Receipt{
		SourceTable:     store.SourceContentJobs,
		SourceID:        job.ID,
		ConversationID:  job.ConversationID,
		OrganizationID:  job.OrganizationID,
		Channel:         action.ChannelContent,
		ActionType:      action.TypeContentRender,
		Status:          store.ReceiptSent,
		Provider:        out.UsedFn,
		PayloadSnapshot: snapshot,
		TriggeredBy:     job.RequestedBy,
		CreatedAt:       s.now(),
	}
	job.Status = store.JobCompleted
	job.UsedFn = out.UsedFn
	job.Result = out.Result
	if renderErr != nil {
		msg := renderErr.Error()
		receipt.Status = store.ReceiptFailed
		receipt.Provider = ProviderRender
		receipt.Error = &msg
		job.Status = store.JobFailed
		job.Error = msg
		s.logger.Warn("content render failed", "job_id", job.ID, "error", msg)
	}

	var errs []error
	if err := s.store.AppendReceipt(ctx, receipt); err != nil {
		s.logger.Error("writing render receipt", "job_id", job.ID, "error", err)
		errs = append(errs, fmt.Errorf("writing receipt: %w", err))
	}
	if err := s.store.UpdateContentJob(ctx, job); err != nil {
		s.logger.Error("finishing content job", "job_id", job.ID, "error", err)
		errs = append(errs, fmt.Errorf("finishing content job: %w", err))
	}
	if receipt.ID != "" {
		if err := s.publisher.PublishReceipt(ctx, receipt); err != nil {
			s.logger.Warn("publishing receipt event", "receipt_id", receipt.ID, "error", err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	resp.OK = renderErr == nil
	resp.Executed = true
	resp.UsedFn = out.UsedFn
	resp.ExecResult = out.Result
	if renderErr != nil {
		resp.Error = renderErr.Error()
	}
	return resp, nil
}
