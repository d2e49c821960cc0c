package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/progfed/progfed/internal/eventbus"
)

// DefaultExchange is the fanout exchange events are mirrored to when no
// exchange name is configured.
const DefaultExchange = "progfed.events"

// Bridge mirrors published events to a RabbitMQ fanout exchange so
// consumers outside the federation (audit, analytics) can observe the
// event stream. Mirroring is best-effort and never feeds back into
// delivery accounting.
type Bridge struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	logger   *slog.Logger
}

// NewBridge connects to the given AMQP URL. If url is empty, returns a
// no-op bridge that logs mirrored events instead of sending them.
func NewBridge(url, exchange string, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if exchange == "" {
		exchange = DefaultExchange
	}

	if url == "" {
		logger.Info("AMQP URL not configured, using no-op event bridge")
		return &Bridge{exchange: exchange, logger: logger}, nil
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &Bridge{
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		logger:   logger,
	}, nil
}

// Mirror sends one event envelope to the exchange.
func (b *Bridge) Mirror(ctx context.Context, evt eventbus.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// No-op mode: just log.
	if b.ch == nil {
		b.logger.Info("event mirrored (no-op)",
			"event_type", evt.EventType,
			"exchange", b.exchange,
		)
		return nil
	}

	return b.ch.PublishWithContext(ctx, b.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   evt.EventID,
		Timestamp:   evt.Timestamp,
		Type:        evt.EventType,
		Body:        body,
	})
}

// Close cleanly shuts down the AMQP connection.
func (b *Bridge) Close() error {
	if b.ch != nil {
		b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
