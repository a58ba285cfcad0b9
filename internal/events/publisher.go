// Package events publishes connection lifecycle events to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/smallbiznis/railzway-connect/internal/domain/connection"
)

// DefaultQueue is used when AMQP_QUEUE is unset.
const DefaultQueue = "connection.lifecycle"

const (
	dialTimeout   = 5 * time.Second
	redialBackoff = 15 * time.Second
)

// ErrBrokerUnavailable is returned while the publisher waits out a failed dial.
var ErrBrokerUnavailable = errors.New("events: broker unavailable")

// Type names a lifecycle transition.
type Type string

const (
	TypeConnected          Type = "connection.connected"
	TypeDisconnected       Type = "connection.disconnected"
	TypeVerificationFailed Type = "connection.verification_failed"
)

// Event is the JSON body published for each transition. It never carries credentials.
type Event struct {
	ID         string              `json:"id"`
	Type       Type                `json:"type"`
	Provider   connection.Provider `json:"provider"`
	TenantID   int64               `json:"tenantId"`
	UserID     string              `json:"userId"`
	RecordID   int64               `json:"recordId,omitempty"`
	Reason     string              `json:"reason,omitempty"`
	OccurredAt time.Time           `json:"occurredAt"`
}

// New stamps an event for rec.
func New(t Type, rec connection.Record, reason string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		Provider:   rec.Provider,
		TenantID:   rec.TenantID,
		UserID:     rec.UserID,
		RecordID:   rec.ID,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher delivers lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
func (NoopPublisher) Close() error                         { return nil }

// AMQPPublisher publishes persistent messages to a durable queue on the default exchange.
type AMQPPublisher struct {
	url    string
	queue  string
	logger *zap.Logger

	dial func(ctx context.Context, url string) (*amqp.Connection, error)
	now  func() time.Time

	mu         sync.Mutex
	conn       *amqp.Connection
	nextDialAt time.Time
	dialErr    error
}

var (
	_ Publisher = NoopPublisher{}
	_ Publisher = (*AMQPPublisher)(nil)
)

// NewPublisher returns an AMQPPublisher when url is set and a NoopPublisher otherwise.
// The broker is dialed lazily so an unavailable broker does not block startup.
func NewPublisher(url, queue string, logger *zap.Logger) Publisher {
	if url == "" {
		return NoopPublisher{}
	}
	if queue == "" {
		queue = DefaultQueue
	}
	return &AMQPPublisher{url: url, queue: queue, logger: logger, dial: dialBroker, now: time.Now}
}

func (p *AMQPPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	conn, err := p.connection(ctx)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Type:         string(event.Type),
		Timestamp:    event.OccurredAt,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	p.log().Debug("lifecycle event published", zap.String("type", string(event.Type)), zap.String("event_id", event.ID))
	return nil
}

// connection returns the shared broker connection. After a failed dial, callers fail fast
// until redialBackoff has passed.
func (p *AMQPPublisher) connection(ctx context.Context) (*amqp.Connection, error) {
	if p.conn != nil && !p.conn.IsClosed() {
		return p.conn, nil
	}
	now := p.now()
	if now.Before(p.nextDialAt) {
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, p.dialErr)
	}
	conn, err := p.dial(ctx, p.url)
	if err != nil {
		p.nextDialAt = now.Add(redialBackoff)
		p.dialErr = err
		p.log().Warn("broker dial failed", zap.Duration("retry_in", redialBackoff), zap.Error(err))
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	p.conn = conn
	p.nextDialAt = time.Time{}
	p.dialErr = nil
	return conn, nil
}

// dialBroker bounds the TCP connect and the AMQP handshake by ctx and dialTimeout. The client
// clears the socket deadline once the connection is open.
func dialBroker(ctx context.Context, url string) (*amqp.Connection, error) {
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	return amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial: func(network, addr string) (net.Conn, error) {
			var d net.Dialer
			conn, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if deadline, ok := ctx.Deadline(); ok {
				if err := conn.SetDeadline(deadline); err != nil {
					_ = conn.Close()
					return nil, err
				}
			}
			return conn, nil
		},
	})
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	return p.conn.Close()
}

func (p *AMQPPublisher) log() *zap.Logger {
	if p != nil && p.logger != nil {
		return p.logger
	}
	return zap.L()
}
