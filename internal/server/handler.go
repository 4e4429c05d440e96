package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/moviehall/cinelive/internal/event"
	"github.com/moviehall/cinelive/internal/wire"
)

// ConnConfig holds the websocket tuning for viewer connections.
type ConnConfig struct {
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	SendBuffer     int
	CheckOrigin    func(r *http.Request) bool
}

func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 4096,
		SendBuffer:     64,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// Server exposes the realtime channel endpoint plus the current-event REST
// read the clients poll.
type Server struct {
	hub      *Hub
	config   ConnConfig
	upgrader websocket.Upgrader

	// current supplies the scheduled broadcast event; nil result means none.
	current func() *event.BroadcastEvent
}

func New(hub *Hub, config ConnConfig, current func() *event.BroadcastEvent) *Server {
	return &Server{
		hub:    hub,
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     config.CheckOrigin,
		},
		current: current,
	}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/cinema", s.handleWS)
	mux.HandleFunc("/api/cinema/current", s.handleCurrentEvent)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &conn{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan []byte, s.config.SendBuffer),
		done: make(chan struct{}),
	}

	go s.writePump(c)
	go s.readPump(c)

	log.Debug().Str("conn_id", c.id).Msg("websocket connection established")
}

func (s *Server) handleCurrentEvent(w http.ResponseWriter, r *http.Request) {
	ev := s.current()
	if ev == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(ev); err != nil {
		log.Error().Err(err).Msg("failed to encode current event")
	}
}

// conn is one viewer connection. Identity fields are populated by the join
// frame; until then only join is accepted.
type conn struct {
	id               string
	room             string
	clientInstanceID string
	userID           *int64
	nickname         string
	avatarURL        *string
	joined           bool

	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.ws != nil {
			_ = c.ws.Close()
		}
	})
}

func (c *conn) sendFrame(frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		log.Warn().Str("conn_id", c.id).Msg("send buffer full, dropping frame")
	}
}

func (s *Server) readPump(c *conn) {
	defer func() {
		s.hub.leave(c)
		c.close()
	}()

	c.ws.SetReadLimit(s.config.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("conn_id", c.id).Msg("unexpected websocket close")
			}
			return
		}
		s.handleFrame(c, data)
		c.ws.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}
}

// handleFrame routes one inbound frame. Malformed or unknown frames are
// dropped; they must never take the connection down.
func (s *Server) handleFrame(c *conn, data []byte) {
	env, err := wire.Peek(data)
	if err != nil {
		log.Debug().Str("conn_id", c.id).Msg("dropping malformed frame")
		return
	}

	switch env.Type {
	case wire.TypeJoin:
		var f wire.Join
		if json.Unmarshal(data, &f) != nil || f.Room == "" {
			return
		}
		s.hub.join(c, f)
	case wire.TypeMessage:
		var f wire.ChatSend
		if json.Unmarshal(data, &f) != nil {
			return
		}
		s.hub.message(c, f)
	case wire.TypeLike:
		var f wire.Like
		if json.Unmarshal(data, &f) != nil {
			return
		}
		s.hub.like(c, f)
	default:
		log.Debug().Str("type", env.Type).Msg("ignoring unknown frame type")
	}
}

func (s *Server) writePump(c *conn) {
	ticker := time.NewTicker(s.config.PingInterval)
	defer func() {
		ticker.Stop()
		s.hub.leave(c)
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("conn_id", c.id).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
