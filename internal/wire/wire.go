// Package wire defines the JSON frames exchanged on the realtime channel.
// Frames travel over a bidirectional message-oriented connection; each frame
// is a single JSON object tagged by type and room.
package wire

import (
	"encoding/json"

	"github.com/moviehall/cinelive/internal/chat"
)

const (
	TypeJoin    = "join"
	TypeMessage = "message"
	TypeLike    = "like"
	TypeHistory = "history"
	TypeStats   = "stats"
	TypeLiked   = "liked"
)

// Envelope carries the fields common to every frame; inbound frames are
// peeked through it before the concrete type is decoded.
type Envelope struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

func Peek(data []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(data, &env)
	return env, err
}

// Join announces a viewer to a room. Identity fields are the snapshot taken
// at connect time.
type Join struct {
	Type             string  `json:"type"`
	Room             string  `json:"room"`
	UserID           *int64  `json:"userId"`
	Nickname         string  `json:"nickname"`
	AvatarURL        *string `json:"avatarUrl"`
	ClientInstanceID string  `json:"clientInstanceId"`
}

// ChatSend is an outbound chat message. The server assigns the id and
// timestamp when it echoes the message back.
type ChatSend struct {
	Type     string `json:"type"`
	Room     string `json:"room"`
	EventID  int64  `json:"eventId"`
	UserID   *int64 `json:"userId"`
	Nickname string `json:"nickname"`
	Text     string `json:"text"`
}

// Like carries a like toggle intent outbound and the server-authoritative
// liked flag inbound (as TypeLiked).
type Like struct {
	Type  string `json:"type"`
	Room  string `json:"room"`
	Liked bool   `json:"liked"`
}

// History replaces the client's message buffer wholesale.
type History struct {
	Type     string         `json:"type"`
	Room     string         `json:"room"`
	Messages []chat.Message `json:"messages"`
}

// ChatBroadcast is one chat message fanned out to a room.
type ChatBroadcast struct {
	Type    string       `json:"type"`
	Room    string       `json:"room"`
	Message chat.Message `json:"message"`
}

// Stats replaces the room's viewer and like counters wholesale. The liked
// flag is carried separately by TypeLiked.
type Stats struct {
	Type    string `json:"type"`
	Room    string `json:"room"`
	Viewers int    `json:"viewers"`
	Likes   int    `json:"likes"`
}
