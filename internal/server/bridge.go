package server

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/moviehall/cinelive/internal/chat"
)

// Bridge fans chat messages out across server instances over NATS so viewers
// of the same room land on the same conversation regardless of which instance
// they connected to. Core pub/sub, not a stream: the channel is best-effort
// and at-most-once, so a message missed while an instance was down stays
// missed.
type Bridge struct {
	nc         *nats.Conn
	instanceID string
	sub        *nats.Subscription
}

// bridgeEnvelope tags each relayed message with the publishing instance so an
// instance can skip its own publishes.
type bridgeEnvelope struct {
	Instance string       `json:"instance"`
	Room     string       `json:"room"`
	Message  chat.Message `json:"message"`
}

func NewBridge(url string) (*Bridge, error) {
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

	return &Bridge{
		nc:         nc,
		instanceID: uuid.NewString(),
	}, nil
}

// Start subscribes to every room subject and relays remote messages into the
// hub. Messages published by this instance are skipped.
func (b *Bridge) Start(hub *Hub) error {
	sub, err := b.nc.Subscribe("cinema.room.>", func(m *nats.Msg) {
		var env bridgeEnvelope
		if err := json.Unmarshal(m.Data, &env); err != nil {
			log.Debug().Err(err).Str("subject", m.Subject).Msg("dropping malformed bridge message")
			return
		}
		if env.Instance == b.instanceID {
			return
		}
		hub.ingestRemoteMessage(env.Room, env.Message)
	})
	if err != nil {
		return fmt.Errorf("subscribe to room subjects: %w", err)
	}
	b.sub = sub

	log.Info().Str("instance", b.instanceID).Msg("room bridge started")
	return nil
}

// PublishMessage relays a locally received chat message to other instances.
// Best effort: a failed publish is logged and forgotten.
func (b *Bridge) PublishMessage(room string, msg chat.Message) {
	data, err := json.Marshal(bridgeEnvelope{
		Instance: b.instanceID,
		Room:     room,
		Message:  msg,
	})
	if err != nil {
		return
	}
	if err := b.nc.Publish(roomSubject(room), data); err != nil {
		log.Warn().Err(err).Str("room", room).Msg("bridge publish failed")
	}
}

func (b *Bridge) Close() {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	if b.nc != nil {
		b.nc.Close()
	}
}

// roomSubject maps a room name onto a NATS subject token.
func roomSubject(room string) string {
	return "cinema.room." + strings.ReplaceAll(room, ":", "-")
}
