// ABOUTME: Tests for receipt event encoding and the AMQP publisher
// ABOUTME: Uses a fake channel so no broker is needed

package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/wrap-gateway/internal/action"
	"github.com/2389/wrap-gateway/internal/store"
)

type fakeChannel struct {
	closed    bool
	published []amqp.Publishing
	keys      []string
	err       error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) IsClosed() bool { return f.closed }

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func testReceipt() *store.Receipt {
	errText := "Invalid recipient"
	return &store.Receipt{
		ID:          "r-1",
		SourceTable: store.SourceActions,
		SourceID:    "a-1",
		Channel:     action.ChannelEmail,
		ActionType:  action.TypeEmailSend,
		Status:      store.ReceiptFailed,
		Provider:    "resend",
		Error:       &errText,
	}
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "receipt.email.failed", RoutingKey(testReceipt()))
}

func TestAMQPPublisher_PublishReceipt(t *testing.T) {
	ch := &fakeChannel{}
	p := newAMQPPublisher("wrap.receipts", slog.Default(), func() (amqpChannel, error) { return ch, nil })

	require.NoError(t, p.PublishReceipt(context.Background(), testReceipt()))
	require.Len(t, ch.published, 1)

	msg := ch.published[0]
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "r-1", msg.MessageId)
	assert.Equal(t, "receipt.email.failed", ch.keys[0])

	var ev ReceiptEvent
	require.NoError(t, json.Unmarshal(msg.Body, &ev))
	assert.Equal(t, "a-1", ev.SourceID)
	require.NotNil(t, ev.Error)
	assert.Equal(t, "Invalid recipient", *ev.Error)
	assert.Nil(t, ev.ProviderReceiptID)
}

func TestAMQPPublisher_ReopensClosedChannel(t *testing.T) {
	first := &fakeChannel{closed: true}
	second := &fakeChannel{}
	opens := 0
	p := newAMQPPublisher("x", slog.Default(), func() (amqpChannel, error) {
		opens++
		return second, nil
	})
	p.ch = first

	require.NoError(t, p.PublishReceipt(context.Background(), testReceipt()))
	assert.Equal(t, 1, opens)
	assert.Len(t, second.published, 1)
	assert.Empty(t, first.published)
}

func TestAMQPPublisher_Errors(t *testing.T) {
	p := newAMQPPublisher("x", slog.Default(), func() (amqpChannel, error) {
		return nil, errors.New("connection refused")
	})
	err := p.PublishReceipt(context.Background(), testReceipt())
	assert.ErrorContains(t, err, "connection refused")

	ch := &fakeChannel{err: errors.New("channel/connection is not open")}
	p = newAMQPPublisher("x", slog.Default(), func() (amqpChannel, error) { return ch, nil })
	err = p.PublishReceipt(context.Background(), testReceipt())
	assert.ErrorContains(t, err, "publishing receipt r-1")

	assert.NoError(t, p.Close())
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.PublishReceipt(context.Background(), testReceipt()))
}
