package playback

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	// endGuard keeps the target short of the functional end of the stream so a
	// correcting seek never lands past the last playable instant.
	endGuard = 1200 * time.Millisecond

	// settleDelay is how long to wait after entering live before the first
	// forced reconcile; the player needs a moment to load the stream.
	settleDelay = 260 * time.Millisecond

	reconcileInterval = 12 * time.Second

	// periodicDriftMax is the correction threshold for the periodic driver.
	// playerEventDriftMax is the (deliberately larger) threshold for the
	// player's own time-update notifications: that path fires far more often
	// and must not fight small decoder jitter.
	periodicDriftMax    = 3 * time.Second
	playerEventDriftMax = 5 * time.Second

	playerEventThrottle = 2200 * time.Millisecond
)

// LiveTarget is the playback position implied by wall-clock time for a live
// broadcast window, clamped to [0, duration-endGuard].
func LiveTarget(start, end, now time.Time) time.Duration {
	limit := end.Sub(start) - endGuard
	if limit < 0 {
		limit = 0
	}
	target := now.Sub(start)
	if target < 0 {
		target = 0
	}
	if target > limit {
		target = limit
	}
	return target
}

// Synchronizer keeps a player's position pinned to the live timeline. It is
// armed with a broadcast window while the exposed phase is live and disarmed
// on exit; all reconcile paths are no-ops while disarmed. Player command
// failures are swallowed and corrected on the next tick.
type Synchronizer struct {
	clock  clockwork.Clock
	player Player

	mu             sync.Mutex
	live           bool
	start, end     time.Time
	settle         clockwork.Timer
	stopCh         chan struct{}
	lastPlayerTick time.Time
	generation     uint64
}

func NewSynchronizer(clock clockwork.Clock, player Player) *Synchronizer {
	return &Synchronizer{clock: clock, player: player}
}

// EnterLive arms the synchronizer for a broadcast window and starts the
// periodic driver: one forced reconcile after settleDelay, then an unforced
// one every reconcileInterval. Re-entering with the same window is a no-op;
// a different window re-arms.
func (s *Synchronizer) EnterLive(start, end time.Time) {
	s.mu.Lock()
	if s.live && start.Equal(s.start) && end.Equal(s.end) {
		s.mu.Unlock()
		return
	}
	s.stopLocked()
	s.live = true
	s.start, s.end = start, end
	s.lastPlayerTick = time.Time{}
	gen := s.generation

	s.settle = s.clock.AfterFunc(settleDelay, func() {
		if s.current(gen) {
			s.Reconcile(true)
		}
	})

	stop := make(chan struct{})
	s.stopCh = stop
	ticker := s.clock.NewTicker(reconcileInterval)
	s.mu.Unlock()

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.Chan():
				if !s.current(gen) {
					return
				}
				s.Reconcile(false)
			}
		}
	}()

	log.Info().Time("start", start).Time("end", end).Msg("playback synchronizer armed")
}

// ExitLive disarms the synchronizer, cancels its timers and pauses the player.
func (s *Synchronizer) ExitLive() {
	s.mu.Lock()
	if !s.live {
		s.mu.Unlock()
		return
	}
	s.stopLocked()
	s.live = false
	s.mu.Unlock()

	if err := s.player.Pause(); err != nil {
		log.Debug().Err(err).Msg("pause on live exit failed")
	}
	log.Info().Msg("playback synchronizer disarmed")
}

// Reconcile corrects the player's position against the live target. It seeks
// when forced, when drift exceeds periodicDriftMax, or when the player is not
// playing; otherwise it leaves the player alone.
func (s *Synchronizer) Reconcile(force bool) {
	s.mu.Lock()
	if !s.live {
		s.mu.Unlock()
		return
	}
	start, end := s.start, s.end
	s.mu.Unlock()

	target := LiveTarget(start, end, s.clock.Now())
	current, err := s.player.Position()
	if err != nil {
		log.Debug().Err(err).Msg("position read failed")
		return
	}
	playing, err := s.player.Playing()
	if err != nil {
		log.Debug().Err(err).Msg("playing read failed")
		return
	}

	drift := (current - target).Abs()
	if !force && playing && drift <= periodicDriftMax {
		return
	}

	if err := s.player.SetPosition(target); err != nil {
		// Best effort: the next tick retries.
		log.Debug().Err(err).Dur("target", target).Msg("seek failed")
	}
	if !playing {
		if err := s.player.Play(); err != nil {
			log.Debug().Err(err).Msg("play failed")
		}
	}
	log.Debug().
		Dur("target", target).
		Dur("drift", drift).
		Bool("force", force).
		Bool("was_playing", playing).
		Msg("reconciled playback position")
}

// OnPlayerTick is the reactive driver, fed by the player's own time-update
// notifications. Evaluations are throttled to one per playerEventThrottle and
// only act on a stopped player or gross desync.
func (s *Synchronizer) OnPlayerTick() {
	s.mu.Lock()
	if !s.live {
		s.mu.Unlock()
		return
	}
	now := s.clock.Now()
	if !s.lastPlayerTick.IsZero() && now.Sub(s.lastPlayerTick) < playerEventThrottle {
		s.mu.Unlock()
		return
	}
	s.lastPlayerTick = now
	start, end := s.start, s.end
	s.mu.Unlock()

	target := LiveTarget(start, end, now)
	current, err := s.player.Position()
	if err != nil {
		return
	}
	playing, err := s.player.Playing()
	if err != nil {
		return
	}
	if playing && (current-target).Abs() <= playerEventDriftMax {
		return
	}
	s.Reconcile(true)
}

// current reports whether gen still identifies the armed window. Late timer
// fires from a previous window must not act.
func (s *Synchronizer) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live && gen == s.generation
}

func (s *Synchronizer) stopLocked() {
	if s.settle != nil {
		s.settle.Stop()
		s.settle = nil
	}
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
	s.generation++
}
