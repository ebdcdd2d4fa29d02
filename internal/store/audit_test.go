// ABOUTME: Tests for audit log store operations
// ABOUTME: Covers Append and List with filtering for the audit_log table

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditStore_Append(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	entry := &AuditEntry{
		Actor:      "ops@example.com",
		Action:     AuditSetMode,
		TargetType: "mode",
		TargetID:   "operating_mode",
		Detail:     map[string]any{"mode": "LIVE"},
	}
	require.NoError(t, s.AppendAuditLog(ctx, entry))

	// Should have generated ID and timestamp
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.Timestamp.IsZero())

	entries, err := s.ListAuditLog(ctx, AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "LIVE", entries[0].Detail["mode"])
}

func TestAuditStore_List_Filters(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	actions := []AuditAction{AuditSetPolicy, AuditApproveAction, AuditSetPolicy, AuditPutCredential}
	for i, a := range actions {
		actor := "alice"
		if i%2 == 1 {
			actor = "bob"
		}
		require.NoError(t, s.AppendAuditLog(ctx, &AuditEntry{
			Actor:      actor,
			Action:     a,
			TargetType: "conversation",
			TargetID:   fmt.Sprintf("conv-%d", i),
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := s.ListAuditLog(ctx, AuditFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, AuditPutCredential, all[0].Action, "newest first")

	byActor, err := s.ListAuditLog(ctx, AuditFilter{Actor: "bob"})
	require.NoError(t, err)
	assert.Len(t, byActor, 2)

	setPolicy := AuditSetPolicy
	byAction, err := s.ListAuditLog(ctx, AuditFilter{Action: &setPolicy})
	require.NoError(t, err)
	assert.Len(t, byAction, 2)

	byTarget, err := s.ListAuditLog(ctx, AuditFilter{TargetType: "conversation", TargetID: "conv-1"})
	require.NoError(t, err)
	require.Len(t, byTarget, 1)
	assert.Equal(t, AuditApproveAction, byTarget[0].Action)

	since := base.Add(90 * time.Second)
	recent, err := s.ListAuditLog(ctx, AuditFilter{Since: &since})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	page, err := s.ListAuditLog(ctx, AuditFilter{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, page, 3)
}

func TestAuditStore_List_Empty(t *testing.T) {
	s := setupTestStore(t)

	entries, err := s.ListAuditLog(context.Background(), AuditFilter{})
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}
