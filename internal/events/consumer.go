package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/lodgevision/signage/internal/gateway"
)

// ConsumerConfig holds the JetStream consumer settings for the
// entity-change bridge.
type ConsumerConfig struct {
	URL           string
	StreamName    string
	ConsumerName  string
	SubjectFilter string
	MaxDeliver    int
	AckWait       time.Duration
}

// DefaultConsumerConfig returns the default bridge configuration.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		URL:           nats.DefaultURL,
		StreamName:    "SIGNAGE_EVENTS",
		ConsumerName:  "signage-core",
		SubjectFilter: "content.events.>",
		MaxDeliver:    5,
		AckWait:       30 * time.Second,
	}
}

// EntityChange is the payload shape the external CRUD layers publish
// when alerts, schedules or playlists mutate. DisplayIDs scopes the
// refresh push; empty means every connected display re-resolves.
type EntityChange struct {
	DisplayIDs []string        `json:"display_ids,omitempty"`
	Entity     json.RawMessage `json:"entity,omitempty"`
}

// Notifier is the slice of the gateway the consumer drives.
type Notifier interface {
	NotifyDisplays(displayIDs []string, msgType string, payload any)
	NotifyAll(msgType string, payload any)
}

// Consumer bridges entity-change events from the bus to re-resolve
// notifications on the real-time channel.
type Consumer struct {
	notifier Notifier
	nc       *nats.Conn
	js       jetstream.JetStream
	consumer jetstream.Consumer
	config   ConsumerConfig
}

// NewConsumer connects and ensures the durable consumer exists.
func NewConsumer(notifier Notifier, config ConsumerConfig) (*Consumer, error) {
	nc, err := nats.Connect(config.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	c := &Consumer{notifier: notifier, nc: nc, js: js, config: config}
	if err := c.ensureConsumer(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure consumer: %w", err)
	}
	return c, nil
}

func (c *Consumer) ensureConsumer(ctx context.Context) error {
	stream, err := c.js.Stream(ctx, c.config.StreamName)
	if err != nil {
		return fmt.Errorf("get stream: %w", err)
	}

	consumer, err := stream.Consumer(ctx, c.config.ConsumerName)
	if err != nil {
		consumer, err = stream.CreateConsumer(ctx, jetstream.ConsumerConfig{
			Name:          c.config.ConsumerName,
			Durable:       c.config.ConsumerName,
			Description:   "Signage core entity-change consumer",
			FilterSubject: c.config.SubjectFilter,
			AckPolicy:     jetstream.AckExplicitPolicy,
			MaxDeliver:    c.config.MaxDeliver,
			AckWait:       c.config.AckWait,
		})
		if err != nil {
			return fmt.Errorf("create consumer: %w", err)
		}
		log.Info().Str("consumer", c.config.ConsumerName).Str("stream", c.config.StreamName).Msg("created JetStream consumer")
	}
	c.consumer = consumer
	return nil
}

// Start consumes until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	log.Info().Str("subject_filter", c.config.SubjectFilter).Msg("starting entity-change consumer")

	consumeCtx, err := c.consumer.Consume(func(msg jetstream.Msg) {
		if err := c.processMessage(msg); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to process entity change")
			if nakErr := msg.Nak(); nakErr != nil {
				log.Error().Err(nakErr).Msg("failed to NAK message")
			}
			return
		}
		if ackErr := msg.Ack(); ackErr != nil {
			log.Error().Err(ackErr).Msg("failed to ACK message")
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	<-ctx.Done()
	log.Info().Msg("entity-change consumer shutting down")
	return nil
}

func (c *Consumer) processMessage(msg jetstream.Msg) error {
	var env Envelope
	if err := json.Unmarshal(msg.Data(), &env); err != nil {
		return fmt.Errorf("unmarshal envelope: %w", err)
	}
	var change EntityChange
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &change); err != nil {
			return fmt.Errorf("unmarshal entity change: %w", err)
		}
	}

	msgType := refreshMessageType(env.EventType)
	if len(change.DisplayIDs) == 0 {
		c.notifier.NotifyAll(msgType, gateway.RefreshPayload{Reason: env.EventType})
	} else {
		c.notifier.NotifyDisplays(change.DisplayIDs, msgType, gateway.RefreshPayload{Reason: env.EventType})
	}

	log.Debug().
		Str("event_type", env.EventType).
		Str("msg_type", msgType).
		Int("displays", len(change.DisplayIDs)).
		Msg("entity change bridged to displays")
	return nil
}

// refreshMessageType maps bus event types onto real-time channel
// notification kinds. Anything unrecognized degrades to a generic
// content refresh so displays still re-resolve.
func refreshMessageType(eventType string) string {
	switch eventType {
	case "alert.activated":
		return gateway.MsgAlertActivated
	case "alert.deactivated":
		return gateway.MsgAlertDeactivated
	case "schedule.activated":
		return gateway.MsgScheduleActivated
	case "schedule.ended":
		return gateway.MsgScheduleEnded
	case "playlist.updated":
		return gateway.MsgPlaylistUpdated
	default:
		return gateway.MsgContentRefresh
	}
}

// Stop tears down the NATS connection.
func (c *Consumer) Stop() {
	if c.nc != nil {
		c.nc.Close()
	}
}
