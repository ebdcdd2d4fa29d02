// ABOUTME: Store interfaces and data types for wrap-gateway persistence
// ABOUTME: Defines action records, policies, receipts, outbound messages and content jobs

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/wrap-gateway/internal/action"
	"github.com/2389/wrap-gateway/internal/policy"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a guarded status transition loses to another writer
// or the record is not in a status the transition starts from.
var ErrConflict = errors.New("conflict")

// Source tables a receipt can point back to.
const (
	SourceActions     = "ai_actions"
	SourceContentJobs = "content_jobs"
)

// Action is a persisted proposal for one outbound or rendering action.
type Action struct {
	ID             string
	ConversationID string // empty for context-free actions
	OrganizationID string
	Channel        action.Channel
	ActionType     action.Type
	Status         action.Status
	Payload        []byte // action_payload exactly as the producer wrote it
	ExecutedAt     *time.Time
	Version        int64
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ConversationPolicy is the stored Policy Context of one conversation.
type ConversationPolicy struct {
	ConversationID string
	policy.Context
	UpdatedBy string
	UpdatedAt time.Time
}

// ReceiptStatus is the outcome recorded on an execution receipt.
type ReceiptStatus string

const (
	ReceiptSent    ReceiptStatus = "sent"
	ReceiptFailed  ReceiptStatus = "failed"
	ReceiptPending ReceiptStatus = "pending"
)

// Receipt is the immutable audit record of one dispatch attempt.
type Receipt struct {
	ID                string
	SourceTable       string // SourceActions or SourceContentJobs
	SourceID          string
	ConversationID    string
	OrganizationID    string
	Channel           action.Channel
	ActionType        action.Type
	Status            ReceiptStatus
	Provider          string
	ProviderReceiptID *string
	PayloadSnapshot   []byte // bytes that were attempted
	Error             *string
	TriggeredBy       string
	CreatedAt         time.Time
}

// DeliveryStatus mirrors the dispatch outcome on an outbound message.
type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// OutboundMessage is the channel-facing side effect of a dm, email or website action.
type OutboundMessage struct {
	ID             string
	ActionID       string
	ConversationID string
	OrganizationID string
	Channel        action.Channel
	Direction      string // always "outbound"
	Content        string
	DeliveryStatus DeliveryStatus
	Metadata       map[string]any
	CreatedAt      time.Time
}

// ContentJobStatus is the lifecycle status of a content job.
type ContentJobStatus string

const (
	JobPending          ContentJobStatus = "pending"
	JobExecuting        ContentJobStatus = "executing"
	JobCompleted        ContentJobStatus = "completed"
	JobFailed           ContentJobStatus = "failed"
	JobAwaitingApproval ContentJobStatus = "awaiting_approval"
)

// ContentJob is the render-oriented counterpart of an Action.
type ContentJob struct {
	ID              string
	ConversationID  string
	OrganizationID  string
	RequestedBy     string
	Agent           string
	Mode            string // "preview" or "execute"
	Status          ContentJobStatus
	InstructionText string
	Parsed          map[string]any
	AIActionID      string
	UsedFn          string
	Result          map[string]any
	Error           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ChannelCredential is a provider secret for one channel, optionally scoped
// to an organization. An empty OrganizationID is the global default.
type ChannelCredential struct {
	ID             string
	Channel        action.Channel
	Name           string
	Value          string
	OrganizationID string
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ListFilter narrows list queries. Empty fields are ignored; fields a table
// does not carry are ignored by that table's list method.
type ListFilter struct {
	ConversationID string
	OrganizationID string
	Status         string
	SourceID       string
	ActionID       string
	Limit          int // default 100, max 1000
}

// ActionStore persists Action Records.
type ActionStore interface {
	CreateAction(ctx context.Context, a *Action) error
	GetAction(ctx context.Context, id string) (*Action, error)
	ListActions(ctx context.Context, f ListFilter) ([]*Action, error)
	// ClaimAction moves a pending or approved record at fromVersion into executing.
	// It returns ErrConflict if the record changed or is not claimable.
	ClaimAction(ctx context.Context, id string, fromVersion int64, at time.Time) error
	// FinishAction moves an executing record into a terminal status.
	FinishAction(ctx context.Context, id string, status action.Status, at time.Time) error
	// ApproveAction moves a pending record into approved.
	ApproveAction(ctx context.Context, id string) error
}

// PolicyStore holds per-conversation policy and the operating mode.
type PolicyStore interface {
	GetConversationPolicy(ctx context.Context, conversationID string) (*ConversationPolicy, error)
	PutConversationPolicy(ctx context.Context, p *ConversationPolicy) error
	OperatingMode(ctx context.Context) (policy.Mode, error)
	SetOperatingMode(ctx context.Context, mode policy.Mode, actor string) error
}

// ReceiptStore is the append-only execution receipt log. There is no update
// or delete.
type ReceiptStore interface {
	AppendReceipt(ctx context.Context, r *Receipt) error
	ListReceipts(ctx context.Context, f ListFilter) ([]*Receipt, error)
}

// MessageStore persists outbound messages.
type MessageStore interface {
	SaveOutboundMessage(ctx context.Context, m *OutboundMessage) error
	ListOutboundMessages(ctx context.Context, f ListFilter) ([]*OutboundMessage, error)
}

// ContentJobStore persists content jobs.
type ContentJobStore interface {
	CreateContentJob(ctx context.Context, j *ContentJob) error
	GetContentJob(ctx context.Context, id string) (*ContentJob, error)
	UpdateContentJob(ctx context.Context, j *ContentJob) error
	ListContentJobs(ctx context.Context, f ListFilter) ([]*ContentJob, error)
}

// CredentialStore persists channel credentials.
type CredentialStore interface {
	PutCredential(ctx context.Context, c *ChannelCredential) error
	GetCredential(ctx context.Context, channel action.Channel, name, organizationID string) (*ChannelCredential, error)
	DeleteCredential(ctx context.Context, channel action.Channel, name, organizationID string) error
}

// AuditStore records operator writes.
type AuditStore interface {
	AppendAuditLog(ctx context.Context, e *AuditEntry) error
	ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

// Store is everything the gateway persists.
type Store interface {
	ActionStore
	PolicyStore
	ReceiptStore
	MessageStore
	ContentJobStore
	CredentialStore
	AuditStore

	Ping(ctx context.Context) error
	Close() error
}

// normalizeLimit applies default (100) and cap (1000) to list limits.
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}
