// Package session ties the clock, phase tracker, playback synchronizer and
// realtime channel together for one viewer of one scheduled broadcast. All
// state transitions funnel through the session so that timers, transport
// callbacks and player notifications never act on a torn-down room.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/moviehall/cinelive/internal/channel"
	"github.com/moviehall/cinelive/internal/chat"
	"github.com/moviehall/cinelive/internal/event"
	"github.com/moviehall/cinelive/internal/phase"
	"github.com/moviehall/cinelive/internal/playback"
)

type Session struct {
	clock   clockwork.Clock
	tracker *phase.Tracker
	sync    *playback.Synchronizer
	channel *channel.Client

	mu       sync.Mutex
	ev       *event.BroadcastEvent
	identity channel.Identity
	closed   bool
}

func New(clock clockwork.Clock, player playback.Player, ch *channel.Client, identity channel.Identity) *Session {
	s := &Session{
		clock:    clock,
		sync:     playback.NewSynchronizer(clock, player),
		channel:  ch,
		identity: identity,
	}
	s.tracker = phase.NewTracker(clock, s.onPhaseChange)
	return s
}

// Tick feeds the session one observation of the event record, possibly
// unchanged or nil. It re-derives the phase and, while live, keeps the
// synchronizer window current and re-asserts the channel connection so
// dropped sockets reconnect on the next tick.
func (s *Session) Tick(ev *event.BroadcastEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	changed := !event.Equal(ev, s.ev)
	if changed {
		s.ev = ev
	}
	cur := s.ev
	identity := s.identity
	s.mu.Unlock()

	p := s.tracker.Update(cur)
	if p != phase.Live || cur == nil {
		return
	}
	if changed {
		s.sync.EnterLive(cur.StartAt, cur.EndAt)
	}
	s.channel.Connect(*cur, identity)
}

func (s *Session) onPhaseChange(from, to phase.Phase) {
	s.mu.Lock()
	ev := s.ev
	identity := s.identity
	s.mu.Unlock()

	if to == phase.Live && ev != nil {
		s.sync.EnterLive(ev.StartAt, ev.EndAt)
		s.channel.Connect(*ev, identity)
		return
	}
	if from == phase.Live {
		s.sync.ExitLive()
		s.channel.Teardown()
	}
}

// OnPlayerTick forwards a player time-update notification to the reactive
// reconcile driver.
func (s *Session) OnPlayerTick() {
	s.sync.OnPlayerTick()
}

func (s *Session) Phase() phase.Phase {
	return s.tracker.Phase()
}

func (s *Session) ChannelState() channel.State {
	return s.channel.State()
}

func (s *Session) Stats() channel.Stats {
	return s.channel.Stats()
}

func (s *Session) Messages() []chat.Message {
	return s.channel.Messages()
}

func (s *Session) SendChatMessage(text string) {
	s.channel.SendChatMessage(text)
}

func (s *Session) ToggleLike() {
	s.channel.ToggleLike()
}

// Run polls the event source on a fixed interval until the context is
// canceled, then tears the session down. A failed poll keeps the last known
// event; the next tick retries.
func (s *Session) Run(ctx context.Context, src event.Source, interval time.Duration) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	s.poll(ctx, src)
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		case <-ticker.Chan():
			s.poll(ctx, src)
		}
	}
}

func (s *Session) poll(ctx context.Context, src event.Source) {
	ev, err := src.Current(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("event poll failed")
		return
	}
	s.Tick(ev)
}

// Close tears down the session: phase to none, synchronizer disarmed, channel
// closed. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.ev = nil
	s.mu.Unlock()

	s.tracker.Update(nil)
	s.sync.ExitLive()
	s.channel.Teardown()
	log.Info().Msg("session closed")
}
