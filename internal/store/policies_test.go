// ABOUTME: Tests for conversation policy and operating mode persistence
// ABOUTME: Covers upserts, missing rows and mode validation

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/wrap-gateway/internal/policy"
)

func TestStore_ConversationPolicy_Upsert(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.GetConversationPolicy(ctx, "conv-1")
	require.ErrorIs(t, err, ErrNotFound)

	p := &ConversationPolicy{
		ConversationID: "conv-1",
		Context:        policy.Context{ApprovalRequired: true, AutopilotAllowed: true},
		UpdatedBy:      "ops@example.com",
	}
	require.NoError(t, s.PutConversationPolicy(ctx, p))

	got, err := s.GetConversationPolicy(ctx, "conv-1")
	require.NoError(t, err)
	assert.False(t, got.AIPaused)
	assert.True(t, got.ApprovalRequired)
	assert.True(t, got.AutopilotAllowed)
	assert.Equal(t, "ops@example.com", got.UpdatedBy)

	p.AIPaused = true
	p.AutopilotAllowed = false
	p.UpdatedAt = got.UpdatedAt.Add(1)
	require.NoError(t, s.PutConversationPolicy(ctx, p))

	got, err = s.GetConversationPolicy(ctx, "conv-1")
	require.NoError(t, err)
	assert.True(t, got.AIPaused)
	assert.False(t, got.AutopilotAllowed)
}

func TestStore_ConversationPolicy_RequiresID(t *testing.T) {
	s := setupTestStore(t)

	err := s.PutConversationPolicy(context.Background(), &ConversationPolicy{})
	assert.ErrorContains(t, err, "conversation_id is required")
}

func TestStore_OperatingMode(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.OperatingMode(ctx)
	require.ErrorIs(t, err, policy.ErrModeUnset)

	require.NoError(t, s.SetOperatingMode(ctx, policy.ModeManual, "ops"))
	mode, err := s.OperatingMode(ctx)
	require.NoError(t, err)
	assert.Equal(t, policy.ModeManual, mode)

	require.NoError(t, s.SetOperatingMode(ctx, policy.ModeLive, "ops"))
	mode, err = s.OperatingMode(ctx)
	require.NoError(t, err)
	assert.Equal(t, policy.ModeLive, mode)

	assert.Error(t, s.SetOperatingMode(ctx, policy.Mode("TURBO"), "ops"))
}

func TestPolicyContext(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	pc, err := PolicyContext(ctx, s, "")
	require.NoError(t, err)
	assert.Nil(t, pc, "no conversation means no policy context")

	pc, err = PolicyContext(ctx, s, "conv-new")
	require.NoError(t, err)
	require.NotNil(t, pc)
	assert.Equal(t, policy.DefaultContext(), *pc)

	require.NoError(t, s.PutConversationPolicy(ctx, &ConversationPolicy{
		ConversationID: "conv-1",
		Context:        policy.Context{AIPaused: true},
	}))
	pc, err = PolicyContext(ctx, s, "conv-1")
	require.NoError(t, err)
	assert.True(t, pc.AIPaused)
	assert.False(t, pc.ApprovalRequired)
}
