// ABOUTME: Tests for MockStore behavior that other packages rely on
// ABOUTME: Verifies the mock keeps the SQL store's transition guards and failure injection

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/wrap-gateway/internal/action"
	"github.com/2389/wrap-gateway/internal/policy"
)

// Compile-time checks that both implementations satisfy Store.
var (
	_ Store = (*SQLStore)(nil)
	_ Store = (*MockStore)(nil)
)

func TestMockStore_ClaimGuards(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	a := newDMAction("conv-1")
	require.NoError(t, m.CreateAction(ctx, a))

	require.NoError(t, m.ClaimAction(ctx, a.ID, 0, time.Now()))
	assert.ErrorIs(t, m.ClaimAction(ctx, a.ID, 1, time.Now()), ErrConflict)
	assert.ErrorIs(t, m.ClaimAction(ctx, "missing", 0, time.Now()), ErrNotFound)

	require.NoError(t, m.FinishAction(ctx, a.ID, action.StatusSent, time.Now()))
	assert.ErrorIs(t, m.FinishAction(ctx, a.ID, action.StatusSent, time.Now()), ErrConflict)

	got, err := m.GetAction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, action.StatusSent, got.Status)
	assert.Equal(t, int64(2), got.Version)
}

func TestMockStore_CopiesPayload(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	a := newDMAction("conv-1")
	require.NoError(t, m.CreateAction(ctx, a))
	a.Payload[0] = 'X'

	got, err := m.GetAction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, byte('{'), got.Payload[0])
}

func TestMockStore_Fail(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()
	boom := errors.New("disk full")

	m.Fail("AppendReceipt", boom)
	err := m.AppendReceipt(ctx, &Receipt{SourceTable: SourceActions, SourceID: "a", Status: ReceiptSent})
	assert.ErrorIs(t, err, boom)

	m.Fail("AppendReceipt", nil)
	assert.NoError(t, m.AppendReceipt(ctx, &Receipt{SourceTable: SourceActions, SourceID: "a", Status: ReceiptSent}))

	got, err := m.ListReceipts(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMockStore_ModeAndCredentials(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	_, err := m.OperatingMode(ctx)
	assert.ErrorIs(t, err, policy.ErrModeUnset)
	require.NoError(t, m.SetOperatingMode(ctx, policy.ModeLive, "ops"))
	mode, err := m.OperatingMode(ctx)
	require.NoError(t, err)
	assert.Equal(t, policy.ModeLive, mode)

	require.NoError(t, m.PutCredential(ctx, &ChannelCredential{Channel: action.ChannelEmail, Name: "access_token", Value: "global"}))
	require.NoError(t, m.PutCredential(ctx, &ChannelCredential{Channel: action.ChannelEmail, Name: "access_token", Value: "acme", OrganizationID: "acme"}))

	c, err := m.GetCredential(ctx, action.ChannelEmail, "access_token", "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", c.Value)
	c, err = m.GetCredential(ctx, action.ChannelEmail, "access_token", "zeta")
	require.NoError(t, err)
	assert.Equal(t, "global", c.Value)
}
