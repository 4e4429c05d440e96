package channel

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/moviehall/cinelive/internal/chat"
	"github.com/moviehall/cinelive/internal/event"
	"github.com/moviehall/cinelive/internal/wire"
)

// State is the connection lifecycle state. Error covers both transient
// transport failures and the configuration failure of having no endpoint at
// all; Configured distinguishes the two.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "idle"
	}
}

// Identity is the viewer identity snapshot captured once at connect time.
// Re-reading identity mid-connection would race with profile updates, so the
// snapshot travels with the connection.
type Identity struct {
	UserID    *int64
	Nickname  string
	AvatarURL *string
}

// Stats is the server-authoritative presence state for the joined room.
// Replaced wholesale by stats/liked frames, never derived locally.
type Stats struct {
	Viewers   int
	Likes     int
	LikedByMe bool
}

const (
	// connectDebounce suppresses redundant reconnects for the same room.
	// Rapid phase flicker or re-renders must not cause a reconnect storm.
	connectDebounce = 1400 * time.Millisecond

	// resendSuppress guards against double-submit of the identical message
	// from UI re-entrancy.
	resendSuppress = 900 * time.Millisecond

	dialTimeout = 10 * time.Second
	sendBuffer  = 32
)

// Client owns one logical connection per room for this client instance. The
// instance id is generated once and survives reconnects so the server can
// recognize the same viewer coming back.
type Client struct {
	endpoint   string
	dialer     Dialer
	clock      clockwork.Clock
	instanceID string

	mu           sync.Mutex
	state        State
	conn         *connection
	lastAttempt  map[string]time.Time
	stats        Stats
	store        *chat.Store
	lastSendText string
	lastSendAt   time.Time
}

// connection carries its own identity so late callbacks from a superseded
// socket can be recognized and dropped: closing a socket does not
// synchronously stop its in-flight callbacks.
type connection struct {
	id        string
	room      string
	eventID   int64
	identity  Identity
	transport Transport
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (cn *connection) close() {
	cn.closeOnce.Do(func() {
		close(cn.done)
		if cn.transport != nil {
			_ = cn.transport.Close()
		}
	})
}

func New(endpoint string, dialer Dialer, clock clockwork.Clock) *Client {
	return &Client{
		endpoint:    endpoint,
		dialer:      dialer,
		clock:       clock,
		instanceID:  uuid.NewString(),
		lastAttempt: make(map[string]time.Time),
		store:       chat.NewStore(),
	}
}

func (c *Client) InstanceID() string { return c.instanceID }

// Configured reports whether a channel endpoint is set. Without one every
// connect attempt is a configuration error, not a transient failure.
func (c *Client) Configured() bool { return c.endpoint != "" }

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Messages returns the current message buffer, oldest first.
func (c *Client) Messages() []chat.Message {
	return c.store.Snapshot()
}

// Connect ensures a connection to the event's room using the given identity
// snapshot. Safe to call on every live tick: an existing connection (or one
// still being dialed) for the same room is left alone, and fresh attempts are
// debounced per room.
func (c *Client) Connect(ev event.BroadcastEvent, identity Identity) {
	room := event.Room(ev.ID)

	c.mu.Lock()
	if c.endpoint == "" {
		c.state = StateError
		c.mu.Unlock()
		log.Warn().Str("room", room).Msg("no channel endpoint configured")
		return
	}
	if c.conn != nil && c.conn.room == room {
		c.mu.Unlock()
		return
	}
	if last, ok := c.lastAttempt[room]; ok && c.clock.Since(last) < connectDebounce {
		c.mu.Unlock()
		return
	}
	c.lastAttempt[room] = c.clock.Now()

	prev := c.conn
	conn := &connection{
		id:       uuid.NewString(),
		room:     room,
		eventID:  ev.ID,
		identity: identity,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}
	c.conn = conn
	c.state = StateConnecting
	c.mu.Unlock()

	if prev != nil {
		prev.close()
	}
	log.Debug().Str("room", room).Str("conn_id", conn.id).Msg("opening channel connection")
	go c.dial(conn)
}

func (c *Client) dial(conn *connection) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	transport, err := c.dialer.Dial(ctx, c.endpoint, conn.room)
	if err != nil {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
			c.state = StateError
		}
		c.mu.Unlock()
		log.Debug().Err(err).Str("room", conn.room).Msg("channel dial failed")
		return
	}

	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		_ = transport.Close()
		return
	}
	conn.transport = transport
	join, err := json.Marshal(wire.Join{
		Type:             wire.TypeJoin,
		Room:             conn.room,
		UserID:           conn.identity.UserID,
		Nickname:         conn.identity.Nickname,
		AvatarURL:        conn.identity.AvatarURL,
		ClientInstanceID: c.instanceID,
	})
	if err == nil {
		conn.send <- join
	}
	c.state = StateConnected
	c.mu.Unlock()

	go c.writePump(conn)
	go c.readPump(conn)

	log.Info().Str("room", conn.room).Str("conn_id", conn.id).Msg("channel connected")
}

func (c *Client) writePump(conn *connection) {
	for {
		select {
		case <-conn.done:
			return
		case data := <-conn.send:
			if err := conn.transport.WriteMessage(data); err != nil {
				log.Debug().Err(err).Str("room", conn.room).Msg("channel write failed")
				c.dropConn(conn, StateError)
				return
			}
		}
	}
}

func (c *Client) readPump(conn *connection) {
	for {
		data, err := conn.transport.ReadMessage()
		if err != nil {
			next := StateError
			if isClosedErr(err) {
				next = StateIdle
			}
			c.dropConn(conn, next)
			return
		}
		c.dispatch(conn, data)
	}
}

// dropConn retires a dead connection. A connection that was already
// superseded changes nothing.
func (c *Client) dropConn(conn *connection, next State) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		conn.close()
		return
	}
	c.conn = nil
	c.state = next
	c.mu.Unlock()

	conn.close()
	log.Debug().Str("room", conn.room).Str("state", next.String()).Msg("channel connection dropped")
}

// dispatch applies one inbound frame. Malformed frames, frames for another
// room, and frames arriving on a superseded connection are dropped silently.
func (c *Client) dispatch(conn *connection, data []byte) {
	env, err := wire.Peek(data)
	if err != nil {
		log.Debug().Msg("dropping malformed channel frame")
		return
	}
	if env.Room != conn.room {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return
	}

	switch env.Type {
	case wire.TypeHistory:
		var f wire.History
		if json.Unmarshal(data, &f) != nil {
			return
		}
		c.store.Replace(f.Messages)
	case wire.TypeMessage:
		var f wire.ChatBroadcast
		if json.Unmarshal(data, &f) != nil {
			return
		}
		c.store.Append(f.Message)
	case wire.TypeStats:
		var f wire.Stats
		if json.Unmarshal(data, &f) != nil {
			return
		}
		c.stats.Viewers = f.Viewers
		c.stats.Likes = f.Likes
	case wire.TypeLiked:
		var f wire.Like
		if json.Unmarshal(data, &f) != nil {
			return
		}
		c.stats.LikedByMe = f.Liked
	}
}

// Teardown closes any open connection, clears the message buffer, resets
// stats and returns to idle (or error when no endpoint is configured at all).
func (c *Client) Teardown() {
	c.mu.Lock()
	prev := c.conn
	c.conn = nil
	if c.endpoint == "" {
		c.state = StateError
	} else {
		c.state = StateIdle
	}
	c.stats = Stats{}
	c.store.Clear()
	c.lastSendText = ""
	c.lastSendAt = time.Time{}
	c.mu.Unlock()

	if prev != nil {
		prev.close()
		log.Debug().Str("room", prev.room).Msg("channel torn down")
	}
}

// SendChatMessage sends a chat message, fire and forget. No-op unless
// connected; an identical trimmed text within resendSuppress is dropped. The
// local buffer is not touched — the message appears when the server echoes it.
func (c *Client) SendChatMessage(text string) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return
	}

	c.mu.Lock()
	conn := c.conn
	if c.state != StateConnected || conn == nil {
		c.mu.Unlock()
		return
	}
	now := c.clock.Now()
	if trimmed == c.lastSendText && now.Sub(c.lastSendAt) < resendSuppress {
		c.mu.Unlock()
		return
	}
	c.lastSendText = trimmed
	c.lastSendAt = now
	frame := wire.ChatSend{
		Type:     wire.TypeMessage,
		Room:     conn.room,
		EventID:  conn.eventID,
		UserID:   conn.identity.UserID,
		Nickname: conn.identity.Nickname,
		Text:     trimmed,
	}
	c.mu.Unlock()

	c.enqueue(conn, frame)
}

// ToggleLike sends the inverse of the current liked flag as an intent. The
// flag itself only changes when the server confirms via a liked frame.
func (c *Client) ToggleLike() {
	c.mu.Lock()
	conn := c.conn
	if c.state != StateConnected || conn == nil {
		c.mu.Unlock()
		return
	}
	frame := wire.Like{
		Type:  wire.TypeLike,
		Room:  conn.room,
		Liked: !c.stats.LikedByMe,
	}
	c.mu.Unlock()

	c.enqueue(conn, frame)
}

func (c *Client) enqueue(conn *connection, frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case conn.send <- data:
	default:
		log.Warn().Str("room", conn.room).Msg("channel send buffer full, dropping frame")
	}
}
