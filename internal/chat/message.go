package chat

import (
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	maxNicknameLen = 40
	maxTextLen     = 500
)

// Message is one chat message as carried on the wire. Messages are never
// mutated after creation; they are only appended and eventually evicted.
type Message struct {
	ID        string  `json:"id"`
	EventID   int64   `json:"eventId"`
	UserID    *int64  `json:"userId"`
	Nickname  string  `json:"nickname"`
	AvatarURL *string `json:"avatarUrl"`
	Text      string  `json:"text"`
	CreatedAt string  `json:"createdAt"`
}

// fingerprint is a content-derived dedup key. The same human message can
// arrive twice under different server-assigned ids (optimistic echo vs room
// broadcast, or a reconnect replay), so id-only dedup is insufficient.
type fingerprint struct {
	userID   int64
	hasUser  bool
	nickname string
	text     string
	second   int64
}

func (m Message) fingerprint() fingerprint {
	fp := fingerprint{
		nickname: strings.TrimSpace(m.Nickname),
		text:     strings.TrimSpace(m.Text),
		second:   createdAtSecond(m.CreatedAt),
	}
	if m.UserID != nil {
		fp.userID = *m.UserID
		fp.hasUser = true
	}
	return fp
}

// createdAtSecond buckets the timestamp to whole seconds. Unparsable
// timestamps bucket to 0 so malformed duplicates still collapse against each
// other but never against well-formed messages.
func createdAtSecond(createdAt string) int64 {
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return 0
	}
	return t.Unix()
}

// normalize fills a missing id, clamps nickname and text, and drops avatar
// URLs that are not http(s) or base64 data images.
func normalize(m Message) Message {
	if strings.TrimSpace(m.ID) == "" {
		m.ID = uuid.NewString()
	}
	m.Nickname = clampRunes(m.Nickname, maxNicknameLen)
	m.Text = clampRunes(m.Text, maxTextLen)
	if m.AvatarURL != nil {
		if cleaned, ok := sanitizeAvatarURL(*m.AvatarURL); ok {
			m.AvatarURL = &cleaned
		} else {
			m.AvatarURL = nil
		}
	}
	return m
}

func clampRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func sanitizeAvatarURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if strings.HasPrefix(raw, "data:image/") && strings.Contains(raw, ";base64,") {
		return raw, true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		return raw, true
	}
	return "", false
}
