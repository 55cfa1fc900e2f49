package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/sprintpoker/go/internal/room"
)

// eventEnvelope is the wire form room events travel in on the stream. Target
// and exclude carry the per-user delivery constraints across the bus so the
// consuming gateway can apply them at its own connection pools.
type eventEnvelope struct {
	RoomCode      string      `json:"roomCode"`
	TargetUserID  string      `json:"targetUserId,omitempty"`
	ExcludeUserID string      `json:"excludeUserId,omitempty"`
	Event         *room.Event `json:"event"`
}

// JetStreamConfig holds connection and stream settings shared by the
// publisher and the consumer.
type JetStreamConfig struct {
	URL           string
	StreamName    string
	ConsumerName  string
	SubjectPrefix string
	MaxDeliver    int
	AckWait       time.Duration
	MaxAckPending int
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultJetStreamConfig returns default JetStream settings.
func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:           nats.DefaultURL,
		StreamName:    "ROOM_EVENTS",
		ConsumerName:  "session-gateway",
		SubjectPrefix: "room.events",
		MaxDeliver:    5,
		AckWait:       30 * time.Second,
		MaxAckPending: 100,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

func natsOptions(config JetStreamConfig) []nats.Option {
	return []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}
}

// NATSBroadcaster publishes room events to a JetStream stream instead of
// delivering them to in-process connection pools. Use it when the session
// gateway runs as a separate process from the command handler.
type NATSBroadcaster struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config JetStreamConfig
}

// NewNATSBroadcaster connects to NATS and ensures the event stream exists.
func NewNATSBroadcaster(ctx context.Context, config JetStreamConfig) (*NATSBroadcaster, error) {
	nc, err := nats.Connect(config.URL, natsOptions(config)...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      config.StreamName,
		Subjects:  []string{config.SubjectPrefix + ".>"},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    time.Hour,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	return &NATSBroadcaster{nc: nc, js: js, config: config}, nil
}

// Broadcast implements room.Broadcaster.
func (b *NATSBroadcaster) Broadcast(roomCode string, ev *room.Event) {
	b.publish(eventEnvelope{RoomCode: roomCode, Event: ev})
}

// BroadcastToUser implements room.Broadcaster.
func (b *NATSBroadcaster) BroadcastToUser(roomCode, userID string, ev *room.Event) {
	b.publish(eventEnvelope{RoomCode: roomCode, TargetUserID: userID, Event: ev})
}

// BroadcastExcept implements room.Broadcaster.
func (b *NATSBroadcaster) BroadcastExcept(roomCode, excludeUserID string, ev *room.Event) {
	b.publish(eventEnvelope{RoomCode: roomCode, ExcludeUserID: excludeUserID, Event: ev})
}

func (b *NATSBroadcaster) publish(envelope eventEnvelope) {
	data, err := json.Marshal(envelope)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event envelope")
		return
	}

	subject := fmt.Sprintf("%s.%s", b.config.SubjectPrefix, envelope.RoomCode)
	if _, err := b.js.Publish(context.Background(), subject, data); err != nil {
		log.Error().
			Err(err).
			Str("subject", subject).
			Str("event_type", string(envelope.Event.Type)).
			Msg("failed to publish room event")
	}
}

// Close shuts down the NATS connection.
func (b *NATSBroadcaster) Close() {
	if b.nc != nil {
		b.nc.Close()
	}
}
