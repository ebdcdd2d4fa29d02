// ABOUTME: Receipt events published after every dispatch attempt for downstream dashboards
// ABOUTME: AMQP publisher over rabbitmq/amqp091-go plus a no-op publisher when no broker is configured

package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/2389/wrap-gateway/internal/store"
)

// Publisher announces receipts. Publishing is best effort: callers log a
// failure and carry on.
type Publisher interface {
	PublishReceipt(ctx context.Context, r *store.Receipt) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) PublishReceipt(context.Context, *store.Receipt) error { return nil }

// ReceiptEvent is the JSON body of a receipt message.
type ReceiptEvent struct {
	ReceiptID         string    `json:"receipt_id"`
	SourceTable       string    `json:"source_table"`
	SourceID          string    `json:"source_id"`
	ConversationID    string    `json:"conversation_id,omitempty"`
	OrganizationID    string    `json:"organization_id,omitempty"`
	Channel           string    `json:"channel"`
	ActionType        string    `json:"action_type"`
	Status            string    `json:"status"`
	Provider          string    `json:"provider"`
	ProviderReceiptID *string   `json:"provider_receipt_id"`
	Error             *string   `json:"error"`
	CreatedAt         time.Time `json:"created_at"`
}

// NewReceiptEvent converts a stored receipt. The payload snapshot stays in
// the database.
func NewReceiptEvent(r *store.Receipt) ReceiptEvent {
	return ReceiptEvent{
		ReceiptID:         r.ID,
		SourceTable:       r.SourceTable,
		SourceID:          r.SourceID,
		ConversationID:    r.ConversationID,
		OrganizationID:    r.OrganizationID,
		Channel:           string(r.Channel),
		ActionType:        string(r.ActionType),
		Status:            string(r.Status),
		Provider:          r.Provider,
		ProviderReceiptID: r.ProviderReceiptID,
		Error:             r.Error,
		CreatedAt:         r.CreatedAt,
	}
}

// RoutingKey is receipt.<channel>.<status>, e.g. receipt.email.failed.
func RoutingKey(r *store.Receipt) string {
	return fmt.Sprintf("receipt.%s.%s", r.Channel, r.Status)
}

// amqpChannel is the part of *amqp.Channel the publisher uses.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

// AMQPPublisher publishes receipt events to a topic exchange.
type AMQPPublisher struct {
	exchange string
	logger   *slog.Logger

	mu      sync.Mutex
	ch      amqpChannel
	open    func() (amqpChannel, error)
	closeFn func() error
}

// DialAMQP connects to the broker and declares a durable topic exchange.
func DialAMQP(url, exchange string, logger *slog.Logger) (*AMQPPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if exchange == "" {
		return nil, errors.New("events exchange is required")
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dialing amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("opening amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declaring exchange %s: %w", exchange, err)
	}

	p := newAMQPPublisher(exchange, logger, func() (amqpChannel, error) {
		return conn.Channel()
	})
	p.ch = ch
	p.closeFn = conn.Close
	p.logger.Info("receipt events enabled", "exchange", exchange)
	return p, nil
}

func newAMQPPublisher(exchange string, logger *slog.Logger, open func() (amqpChannel, error)) *AMQPPublisher {
	return &AMQPPublisher{
		exchange: exchange,
		logger:   logger.With("component", "events"),
		open:     open,
	}
}

// channel returns the publish channel, reopening it after the broker closed it.
func (p *AMQPPublisher) channel() (amqpChannel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	ch, err := p.open()
	if err != nil {
		return nil, fmt.Errorf("reopening amqp channel: %w", err)
	}
	p.ch = ch
	p.logger.Warn("publish channel was closed, reopened")
	return ch, nil
}

// PublishReceipt publishes one persistent JSON message.
func (p *AMQPPublisher) PublishReceipt(ctx context.Context, r *store.Receipt) error {
	body, err := json.Marshal(NewReceiptEvent(r))
	if err != nil {
		return fmt.Errorf("marshaling receipt event: %w", err)
	}

	ch, err := p.channel()
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx, p.exchange, RoutingKey(r), false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    r.ID,
		Timestamp:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("publishing receipt %s: %w", r.ID, err)
	}
	return nil
}

// Close closes the channel and the connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.ch != nil {
		if err := p.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if p.closeFn != nil {
		if err := p.closeFn(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
