// Package events bridges the core to the platform message bus: it
// publishes the core's domain events for the persistence and analytics
// layers, and consumes entity-change events that trigger resolver
// refresh pushes to displays.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// Envelope is the wire format for every event on the bus.
type Envelope struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Publisher emits domain events. Emit is fire-and-forget: bus failures
// are logged and never abort the calling operation.
type Publisher interface {
	Emit(ctx context.Context, eventType string, payload any)
}

// NoopPublisher drops every event; used when NATS is not configured.
type NoopPublisher struct{}

func (NoopPublisher) Emit(context.Context, string, any) {}

// NATSPublisher publishes domain events to JetStream under
// "<prefix>.<event type>".
type NATSPublisher struct {
	nc            *nats.Conn
	js            jetstream.JetStream
	subjectPrefix string
}

// NewNATSPublisher connects to NATS with unlimited reconnects and
// returns a JetStream-backed publisher.
func NewNATSPublisher(url, subjectPrefix string) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	return &NATSPublisher{nc: nc, js: js, subjectPrefix: subjectPrefix}, nil
}

// Emit publishes one event. Failures are logged, not returned, so a bus
// outage never corrupts or blocks coordinator state transitions.
func (p *NATSPublisher) Emit(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		return
	}
	env := Envelope{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
		Payload:   data,
	}
	body, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event envelope")
		return
	}

	subject := fmt.Sprintf("%s.%s", p.subjectPrefix, eventType)
	if _, err := p.js.Publish(ctx, subject, body); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("failed to publish event")
		return
	}
	log.Debug().Str("subject", subject).Str("event_id", env.EventID).Msg("event published")
}

// Close tears down the NATS connection.
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}
