// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject failures into single methods

package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/wrap-gateway/internal/action"
	"github.com/2389/wrap-gateway/internal/policy"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu          sync.RWMutex
	actions     map[string]*Action             // keyed by action ID
	policies    map[string]*ConversationPolicy // keyed by conversation ID
	mode        policy.Mode                    // empty = unset
	receipts    []*Receipt                     // insertion order
	messages    []*OutboundMessage             // insertion order
	jobs        map[string]*ContentJob         // keyed by job ID
	credentials map[string]*ChannelCredential  // keyed by "channel:name:org"
	audit       []AuditEntry
	failures    map[string]error // keyed by method name
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		actions:     make(map[string]*Action),
		policies:    make(map[string]*ConversationPolicy),
		jobs:        make(map[string]*ContentJob),
		credentials: make(map[string]*ChannelCredential),
		failures:    make(map[string]error),
	}
}

// Fail makes the named method return err until cleared with a nil err.
func (m *MockStore) Fail(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, method)
		return
	}
	m.failures[method] = err
}

// failure must be called with mu held.
func (m *MockStore) failure(method string) error {
	return m.failures[method]
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return bytes.Clone(b)
}

// CreateAction stores a new action.
func (m *MockStore) CreateAction(ctx context.Context, a *Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("CreateAction"); err != nil {
		return err
	}
	if err := prepareAction(a); err != nil {
		return err
	}
	if _, exists := m.actions[a.ID]; exists {
		return fmt.Errorf("action %s already exists: %w", a.ID, ErrConflict)
	}

	// Make a copy to avoid external modification
	c := *a
	c.Payload = copyBytes(a.Payload)
	m.actions[c.ID] = &c
	return nil
}

// GetAction retrieves an action by ID.
func (m *MockStore) GetAction(ctx context.Context, id string) (*Action, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("GetAction"); err != nil {
		return nil, err
	}
	a, ok := m.actions[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *a
	c.Payload = copyBytes(a.Payload)
	return &c, nil
}

// ListActions returns actions newest first.
func (m *MockStore) ListActions(ctx context.Context, f ListFilter) ([]*Action, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []*Action{}
	for _, a := range m.actions {
		if !matches(f.ConversationID, a.ConversationID) ||
			!matches(f.OrganizationID, a.OrganizationID) ||
			!matches(f.Status, string(a.Status)) {
			continue
		}
		c := *a
		c.Payload = copyBytes(a.Payload)
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return limitSlice(result, f.Limit), nil
}

// ClaimAction moves a pending or approved action at fromVersion into executing.
func (m *MockStore) ClaimAction(ctx context.Context, id string, fromVersion int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("ClaimAction"); err != nil {
		return err
	}
	a, ok := m.actions[id]
	if !ok {
		return ErrNotFound
	}
	if a.Version != fromVersion || !a.Status.Claimable() {
		return ErrConflict
	}
	a.Status = action.StatusExecuting
	ts := at.UTC()
	a.ExecutedAt = &ts
	a.UpdatedAt = ts
	a.Version++
	return nil
}

// FinishAction moves an executing action into a terminal status.
func (m *MockStore) FinishAction(ctx context.Context, id string, status action.Status, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("FinishAction"); err != nil {
		return err
	}
	if !status.Terminal() {
		return fmt.Errorf("finish status must be terminal, got %q", status)
	}
	a, ok := m.actions[id]
	if !ok {
		return ErrNotFound
	}
	if a.Status != action.StatusExecuting {
		return ErrConflict
	}
	a.Status = status
	ts := at.UTC()
	a.ExecutedAt = &ts
	a.UpdatedAt = ts
	a.Version++
	return nil
}

// ApproveAction moves a pending action into approved.
func (m *MockStore) ApproveAction(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.actions[id]
	if !ok {
		return ErrNotFound
	}
	if a.Status != action.StatusPending {
		return ErrConflict
	}
	a.Status = action.StatusApproved
	a.UpdatedAt = time.Now().UTC()
	a.Version++
	return nil
}

// GetConversationPolicy retrieves a conversation's policy.
func (m *MockStore) GetConversationPolicy(ctx context.Context, conversationID string) (*ConversationPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("GetConversationPolicy"); err != nil {
		return nil, err
	}
	p, ok := m.policies[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *p
	return &c, nil
}

// PutConversationPolicy stores a conversation's policy.
func (m *MockStore) PutConversationPolicy(ctx context.Context, p *ConversationPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.ConversationID == "" {
		return errors.New("conversation_id is required")
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	c := *p
	m.policies[c.ConversationID] = &c
	return nil
}

// OperatingMode returns the stored mode or policy.ErrModeUnset.
func (m *MockStore) OperatingMode(ctx context.Context) (policy.Mode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("OperatingMode"); err != nil {
		return "", err
	}
	if m.mode == "" {
		return "", policy.ErrModeUnset
	}
	return m.mode, nil
}

// SetOperatingMode stores the mode.
func (m *MockStore) SetOperatingMode(ctx context.Context, mode policy.Mode, actor string) error {
	if _, err := policy.ParseMode(string(mode)); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = mode
	return nil
}

// AppendReceipt appends a receipt.
func (m *MockStore) AppendReceipt(ctx context.Context, r *Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("AppendReceipt"); err != nil {
		return err
	}
	if err := prepareReceipt(r); err != nil {
		return err
	}
	c := *r
	c.PayloadSnapshot = copyBytes(r.PayloadSnapshot)
	m.receipts = append(m.receipts, &c)
	return nil
}

// ListReceipts returns receipts newest first.
func (m *MockStore) ListReceipts(ctx context.Context, f ListFilter) ([]*Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []*Receipt{}
	for i := len(m.receipts) - 1; i >= 0; i-- {
		r := m.receipts[i]
		if !matches(f.ConversationID, r.ConversationID) ||
			!matches(f.OrganizationID, r.OrganizationID) ||
			!matches(f.Status, string(r.Status)) ||
			!matches(f.SourceID, r.SourceID) {
			continue
		}
		c := *r
		c.PayloadSnapshot = copyBytes(r.PayloadSnapshot)
		result = append(result, &c)
	}
	return limitSlice(result, f.Limit), nil
}

// SaveOutboundMessage stores an outbound message.
func (m *MockStore) SaveOutboundMessage(ctx context.Context, msg *OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("SaveOutboundMessage"); err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Direction == "" {
		msg.Direction = "outbound"
	}
	c := *msg
	m.messages = append(m.messages, &c)
	return nil
}

// ListOutboundMessages returns messages newest first.
func (m *MockStore) ListOutboundMessages(ctx context.Context, f ListFilter) ([]*OutboundMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []*OutboundMessage{}
	for i := len(m.messages) - 1; i >= 0; i-- {
		msg := m.messages[i]
		if !matches(f.ConversationID, msg.ConversationID) ||
			!matches(f.OrganizationID, msg.OrganizationID) ||
			!matches(f.ActionID, msg.ActionID) ||
			!matches(f.Status, string(msg.DeliveryStatus)) {
			continue
		}
		c := *msg
		result = append(result, &c)
	}
	return limitSlice(result, f.Limit), nil
}

// CreateContentJob stores a content job.
func (m *MockStore) CreateContentJob(ctx context.Context, j *ContentJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("CreateContentJob"); err != nil {
		return err
	}
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.Status == "" {
		j.Status = JobPending
	}
	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = j.CreatedAt
	}
	c := *j
	m.jobs[c.ID] = &c
	return nil
}

// GetContentJob retrieves a content job by ID.
func (m *MockStore) GetContentJob(ctx context.Context, id string) (*ContentJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *j
	return &c, nil
}

// UpdateContentJob replaces a content job.
func (m *MockStore) UpdateContentJob(ctx context.Context, j *ContentJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("UpdateContentJob"); err != nil {
		return err
	}
	if _, ok := m.jobs[j.ID]; !ok {
		return ErrNotFound
	}
	j.UpdatedAt = time.Now().UTC()
	c := *j
	m.jobs[c.ID] = &c
	return nil
}

// ListContentJobs returns content jobs newest first.
func (m *MockStore) ListContentJobs(ctx context.Context, f ListFilter) ([]*ContentJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []*ContentJob{}
	for _, j := range m.jobs {
		if !matches(f.ConversationID, j.ConversationID) ||
			!matches(f.OrganizationID, j.OrganizationID) ||
			!matches(f.Status, string(j.Status)) {
			continue
		}
		c := *j
		result = append(result, &c)
	}
	sort.Slice(result, func(i, k int) bool { return result[i].CreatedAt.After(result[k].CreatedAt) })
	return limitSlice(result, f.Limit), nil
}

func credentialKey(channel action.Channel, name, org string) string {
	return string(channel) + ":" + name + ":" + org
}

// PutCredential stores a credential.
func (m *MockStore) PutCredential(ctx context.Context, c *ChannelCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.Channel == "" || c.Name == "" {
		return errors.New("credential requires a channel and a name")
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	cp := *c
	m.credentials[credentialKey(c.Channel, c.Name, c.OrganizationID)] = &cp
	return nil
}

// GetCredential resolves an organization-scoped credential, falling back to the global one.
func (m *MockStore) GetCredential(ctx context.Context, channel action.Channel, name, organizationID string) (*ChannelCredential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("GetCredential"); err != nil {
		return nil, err
	}
	if organizationID != "" {
		if c, ok := m.credentials[credentialKey(channel, name, organizationID)]; ok {
			cp := *c
			return &cp, nil
		}
	}
	if c, ok := m.credentials[credentialKey(channel, name, "")]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, ErrNotFound
}

// DeleteCredential removes a credential.
func (m *MockStore) DeleteCredential(ctx context.Context, channel action.Channel, name, organizationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := credentialKey(channel, name, organizationID)
	if _, ok := m.credentials[key]; !ok {
		return ErrNotFound
	}
	delete(m.credentials, key)
	return nil
}

// AppendAuditLog appends an audit entry.
func (m *MockStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	m.audit = append(m.audit, *e)
	return nil
}

// ListAuditLog returns audit entries newest first.
func (m *MockStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := []AuditEntry{}
	for i := len(m.audit) - 1; i >= 0; i-- {
		e := m.audit[i]
		if !matches(f.Actor, e.Actor) || !matches(f.TargetType, e.TargetType) || !matches(f.TargetID, e.TargetID) {
			continue
		}
		if f.Action != nil && e.Action != *f.Action {
			continue
		}
		entries = append(entries, e)
	}
	limit := normalizeLimit(f.Limit)
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Ping always succeeds unless a failure is injected.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failure("Ping")
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

func matches(filter, value string) bool {
	return filter == "" || filter == value
}

func limitSlice[T any](items []T, limit int) []T {
	limit = normalizeLimit(limit)
	if len(items) > limit {
		return items[:limit]
	}
	return items
}
