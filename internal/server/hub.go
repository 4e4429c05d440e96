package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/moviehall/cinelive/internal/chat"
	"github.com/moviehall/cinelive/internal/wire"
)

// Hub maintains the realtime rooms: connection sets, like sets and bounded
// chat history. Viewer and like counts are derived from hub state and pushed
// to clients wholesale; clients never compute them.
type Hub struct {
	clock  clockwork.Clock
	bridge *Bridge // optional cross-instance fanout, may be nil

	mu    sync.RWMutex
	rooms map[string]*room
}

type room struct {
	name    string
	conns   map[*conn]bool
	likedBy map[string]bool
	history *chat.Store
}

func NewHub(clock clockwork.Clock) *Hub {
	return &Hub{
		clock: clock,
		rooms: make(map[string]*room),
	}
}

// SetBridge attaches a cross-instance bridge. Must be called before serving.
func (h *Hub) SetBridge(b *Bridge) {
	h.bridge = b
}

// join registers a connection into the room named by the join frame, sends
// the joiner its history snapshot and liked flag, and fans out fresh stats.
func (h *Hub) join(c *conn, f wire.Join) {
	h.mu.Lock()
	rm, ok := h.rooms[f.Room]
	if !ok {
		rm = &room{
			name:    f.Room,
			conns:   make(map[*conn]bool),
			likedBy: make(map[string]bool),
			history: chat.NewStore(),
		}
		h.rooms[f.Room] = rm
	}
	rm.conns[c] = true
	c.room = f.Room
	c.clientInstanceID = f.ClientInstanceID
	c.userID = f.UserID
	c.nickname = f.Nickname
	c.avatarURL = f.AvatarURL
	c.joined = true
	liked := rm.likedBy[f.ClientInstanceID]
	h.mu.Unlock()

	c.sendFrame(wire.History{Type: wire.TypeHistory, Room: rm.name, Messages: rm.history.Snapshot()})
	c.sendFrame(wire.Like{Type: wire.TypeLiked, Room: rm.name, Liked: liked})
	h.broadcastStats(rm.name)

	log.Info().
		Str("room", rm.name).
		Str("conn_id", c.id).
		Str("client_instance", f.ClientInstanceID).
		Msg("viewer joined room")
}

// message appends an inbound chat message to the room history and fans it
// out. The server assigns the id and timestamp.
func (h *Hub) message(c *conn, f wire.ChatSend) {
	h.mu.RLock()
	rm := h.rooms[c.room]
	h.mu.RUnlock()
	if !c.joined || rm == nil || f.Room != c.room {
		return
	}

	msg := chat.Message{
		ID:        uuid.NewString(),
		EventID:   f.EventID,
		UserID:    f.UserID,
		Nickname:  f.Nickname,
		AvatarURL: c.avatarURL,
		Text:      f.Text,
		CreatedAt: h.clock.Now().UTC().Format(time.RFC3339),
	}
	rm.history.Append(msg)
	h.broadcast(rm.name, wire.ChatBroadcast{Type: wire.TypeMessage, Room: rm.name, Message: msg})

	if h.bridge != nil {
		h.bridge.PublishMessage(rm.name, msg)
	}
}

// like updates the room's like set from a toggle intent, confirms the flag to
// the sender and fans out fresh stats.
func (h *Hub) like(c *conn, f wire.Like) {
	h.mu.Lock()
	rm := h.rooms[c.room]
	if !c.joined || rm == nil || f.Room != c.room {
		h.mu.Unlock()
		return
	}
	if f.Liked {
		rm.likedBy[c.clientInstanceID] = true
	} else {
		delete(rm.likedBy, c.clientInstanceID)
	}
	h.mu.Unlock()

	c.sendFrame(wire.Like{Type: wire.TypeLiked, Room: rm.name, Liked: f.Liked})
	h.broadcastStats(rm.name)
}

// leave unregisters a connection and fans out fresh stats. Empty rooms keep
// their like set and history so a rejoining viewer sees them again.
func (h *Hub) leave(c *conn) {
	h.mu.Lock()
	rm := h.rooms[c.room]
	if rm == nil || !rm.conns[c] {
		h.mu.Unlock()
		return
	}
	delete(rm.conns, c)
	h.mu.Unlock()

	h.broadcastStats(rm.name)
	log.Info().Str("room", rm.name).Str("conn_id", c.id).Msg("viewer left room")
}

// ingestRemoteMessage applies a chat message relayed from another server
// instance: into local history and out to local viewers.
func (h *Hub) ingestRemoteMessage(roomName string, msg chat.Message) {
	h.mu.RLock()
	rm := h.rooms[roomName]
	h.mu.RUnlock()
	if rm == nil {
		return
	}
	rm.history.Append(msg)
	h.broadcast(roomName, wire.ChatBroadcast{Type: wire.TypeMessage, Room: roomName, Message: msg})
}

func (h *Hub) broadcastStats(roomName string) {
	h.mu.RLock()
	rm := h.rooms[roomName]
	if rm == nil {
		h.mu.RUnlock()
		return
	}
	frame := wire.Stats{
		Type:    wire.TypeStats,
		Room:    roomName,
		Viewers: len(rm.conns),
		Likes:   len(rm.likedBy),
	}
	h.mu.RUnlock()

	h.broadcast(roomName, frame)
}

// broadcast fans a frame out to every connection in a room. Slow consumers
// whose send buffer is full are dropped rather than blocking the room.
func (h *Hub) broadcast(roomName string, frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal frame for broadcast")
		return
	}

	h.mu.RLock()
	rm := h.rooms[roomName]
	if rm == nil {
		h.mu.RUnlock()
		return
	}
	targets := make([]*conn, 0, len(rm.conns))
	for c := range rm.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- data:
		default:
			log.Warn().Str("room", roomName).Str("conn_id", c.id).Msg("send buffer full, closing connection")
			h.leave(c)
			c.close()
		}
	}
}
