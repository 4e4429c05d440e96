package event

import (
	"context"
	"fmt"
	"time"
)

// BroadcastEvent describes a scheduled broadcast window. The struct is owned by
// the backend; this side only reads it.
type BroadcastEvent struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	VideoURI  string    `json:"videoUri"`
	StartAt   time.Time `json:"startAt"`
	EndAt     time.Time `json:"endAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Duration returns the declared length of the broadcast window.
func (e *BroadcastEvent) Duration() time.Duration {
	return e.EndAt.Sub(e.StartAt)
}

// Equal reports whether two event values are field-identical for
// change-detection purposes. A poll that returns an unchanged record must not
// look like a new event downstream.
func Equal(a, b *BroadcastEvent) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID &&
		a.StartAt.Equal(b.StartAt) &&
		a.EndAt.Equal(b.EndAt) &&
		a.VideoURI == b.VideoURI &&
		a.UpdatedAt.Equal(b.UpdatedAt)
}

// Room returns the realtime channel room name for an event.
func Room(eventID int64) string {
	return fmt.Sprintf("cinema:%d", eventID)
}

// Source is a pollable read accessor for the current broadcast event.
// A nil event with a nil error means no broadcast is scheduled.
type Source interface {
	Current(ctx context.Context) (*BroadcastEvent, error)
}
