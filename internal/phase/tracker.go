package phase

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/moviehall/cinelive/internal/event"
)

// boundaryGuard is how long an upcoming<->live transition is held back before
// it is exposed. Clients poll the event record and recompute time on
// independent intervals, so a clock skew or a stale fetch near the exact start
// instant can flip the raw phase and flip it right back within a second.
const boundaryGuard = 1400 * time.Millisecond

// Tracker exposes a debounced view of the raw phase. Transitions across the
// live boundary are delayed by boundaryGuard and discarded if the raw phase
// flips back first; every other transition applies immediately.
type Tracker struct {
	clock    clockwork.Clock
	onChange func(from, to Phase)

	mu            sync.Mutex
	exposed       Phase
	pendingTimer  clockwork.Timer
	pendingTarget Phase
	generation    uint64
}

// NewTracker creates a tracker. onChange may be nil; when set it is invoked
// outside the tracker lock, one transition at a time.
func NewTracker(clock clockwork.Clock, onChange func(from, to Phase)) *Tracker {
	return &Tracker{
		clock:    clock,
		onChange: onChange,
		exposed:  None,
	}
}

// Phase returns the currently exposed phase.
func (t *Tracker) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exposed
}

// Update re-derives the raw phase for ev at the current time and applies the
// debounce rules. It returns the exposed phase after the update. Safe to call
// with an unchanged or nil event on every tick.
func (t *Tracker) Update(ev *event.BroadcastEvent) Phase {
	raw := Derive(ev, t.clock.Now())

	t.mu.Lock()
	if raw == t.exposed {
		// Raw flipped back (or never moved); drop any pending transition.
		t.cancelPendingLocked()
		cur := t.exposed
		t.mu.Unlock()
		return cur
	}

	if ev != nil && liveBoundary(t.exposed, raw) {
		if t.pendingTimer != nil && t.pendingTarget == raw {
			// Already counting down to this phase.
			cur := t.exposed
			t.mu.Unlock()
			return cur
		}
		t.cancelPendingLocked()
		t.pendingTarget = raw
		gen := t.generation
		t.pendingTimer = t.clock.AfterFunc(boundaryGuard, func() {
			t.applyPending(gen, raw)
		})
		log.Debug().
			Str("from", t.exposed.String()).
			Str("to", raw.String()).
			Dur("guard", boundaryGuard).
			Msg("holding phase transition at live boundary")
		cur := t.exposed
		t.mu.Unlock()
		return cur
	}

	// Everything else applies immediately: ended is terminal for the session
	// and the remaining transitions drive no expensive side effects.
	t.cancelPendingLocked()
	from := t.exposed
	t.exposed = raw
	t.mu.Unlock()

	t.notify(from, raw)
	return raw
}

// applyPending commits a delayed live-boundary transition, unless it was
// superseded while the guard timer was running.
func (t *Tracker) applyPending(gen uint64, target Phase) {
	t.mu.Lock()
	if gen != t.generation {
		t.mu.Unlock()
		return
	}
	t.pendingTimer = nil
	from := t.exposed
	t.exposed = target
	t.mu.Unlock()

	t.notify(from, target)
}

func (t *Tracker) cancelPendingLocked() {
	if t.pendingTimer != nil {
		t.pendingTimer.Stop()
		t.pendingTimer = nil
	}
	t.generation++
}

func (t *Tracker) notify(from, to Phase) {
	log.Info().Str("from", from.String()).Str("to", to.String()).Msg("phase changed")
	if t.onChange != nil {
		t.onChange(from, to)
	}
}

func liveBoundary(a, b Phase) bool {
	return (a == Upcoming && b == Live) || (a == Live && b == Upcoming)
}
