package phase

import (
	"time"

	"github.com/moviehall/cinelive/internal/event"
)

// Phase describes a broadcast's relationship to the current time.
type Phase int

const (
	None Phase = iota
	Upcoming
	Live
	Ended
)

func (p Phase) String() string {
	switch p {
	case Upcoming:
		return "upcoming"
	case Live:
		return "live"
	case Ended:
		return "ended"
	default:
		return "none"
	}
}

// Derive computes the raw phase as a pure function of the event window and the
// current time. Both boundary instants count as live.
func Derive(ev *event.BroadcastEvent, now time.Time) Phase {
	if ev == nil {
		return None
	}
	if now.Before(ev.StartAt) {
		return Upcoming
	}
	if now.After(ev.EndAt) {
		return Ended
	}
	return Live
}
