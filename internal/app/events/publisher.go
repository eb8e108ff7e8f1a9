/*
Package events publishes connection lifecycle events (connect, disconnect, join, leave)
to a RabbitMQ topic exchange so that other services can follow presence without
holding a socket of their own.

When no broker is configured, or the broker cannot be reached at start-up, a no-op
publisher is used and the relays behave exactly the same.
*/
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"nook/internal/pkg/logx"
	"nook/internal/pkg/metrics"
)

// Event types.
const (
	TypeConnect    = "connect"
	TypeDisconnect = "disconnect"
	TypeJoin       = "join"
	TypeLeave      = "leave"
)

const (
	routingKeyPrefix = "ws_events."
	publishTimeout   = 2 * time.Second
)

// Event describes one lifecycle transition of a relay connection.
type Event struct {
	Type           string    `json:"type"`
	Kind           string    `json:"kind"`
	IdentityID     string    `json:"identityId"`
	ConnectionID   string    `json:"connectionId"`
	ConversationID string    `json:"conversationId,omitempty"`
	At             time.Time `json:"at"`
}

// RoutingKey returns the topic routing key for e, for example "ws_events.chat".
func (e Event) RoutingKey() string {
	return routingKeyPrefix + e.Kind
}

// Publisher delivers lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// NewPublisher builds a RabbitMQ publisher or a no-op publisher when AMQP is disabled or unreachable.
func NewPublisher(amqpURL, exchange string) Publisher {
	logger := logx.Component("EventPublisher")

	if amqpURL == "" {
		logger.Info().Msg("Event publishing disabled: no AMQP URL configured.")
		return Noop{}
	}

	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		logger.Warn().Err(err).Msg("Event publishing disabled: broker unreachable.")
		return Noop{}
	}

	ch, err := conn.Channel()
	if err != nil {
		logger.Warn().Err(err).Msg("Event publishing disabled: failed to open channel.")
		_ = conn.Close()
		return Noop{}
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		logger.Warn().Err(err).Str("exchange", exchange).Msg("Event publishing disabled: failed to declare exchange.")
		_ = ch.Close()
		_ = conn.Close()
		return Noop{}
	}

	logger.Info().Str("exchange", exchange).Msg("Event publisher connected.")
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange, logger: logger}
}

// AMQPPublisher publishes JSON events to a topic exchange.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	logger   zerolog.Logger
}

// Publish sends e as a transient JSON message.
func (p *AMQPPublisher) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}

	return p.ch.PublishWithContext(ctx, p.exchange, e.RoutingKey(), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Timestamp:    e.At,
		Type:         e.Type,
		Body:         body,
	})
}

// Close closes the channel and the connection.
func (p *AMQPPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Noop discards every event.
type Noop struct{}

// Publish implements Publisher.
func (Noop) Publish(context.Context, Event) error { return nil }

// Close implements Publisher.
func (Noop) Close() error { return nil }

// Emit stamps e and publishes it with a bounded timeout. Failures are logged and counted,
// never returned: lifecycle events are best-effort and must not affect the relay.
func Emit(p Publisher, e Event) {
	if p == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := p.Publish(ctx, e); err != nil {
		metrics.IncEventPublishError()
		logx.Logger().Warn().Err(err).
			Str("event_type", e.Type).
			Str("routing_key", e.RoutingKey()).
			Msg("Failed to publish lifecycle event")
	}
}

// Recorder keeps every published event in memory. It is used by tests and by
// deployments that want to inspect events without a broker.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, e)
	return nil
}

// Close implements Publisher.
func (r *Recorder) Close() error { return nil }

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many recorded events match typ and identityID.
func (r *Recorder) Count(typ, identityID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range r.events {
		if e.Type == typ && e.IdentityID == identityID {
			n++
		}
	}
	return n
}
