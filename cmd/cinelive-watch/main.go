// cinelive-watch is a headless viewer: it polls the current broadcast event,
// derives the playback position from wall-clock time against a simulated
// player and joins the realtime room, logging chat and presence as it goes.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/moviehall/cinelive/internal/channel"
	"github.com/moviehall/cinelive/internal/config"
	"github.com/moviehall/cinelive/internal/event"
	"github.com/moviehall/cinelive/internal/session"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(config.GetEnv("CINELIVE_CONFIG", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Client.EventURL == "" {
		log.Fatal().Msg("CINELIVE_EVENT_URL is required")
	}

	clock := clockwork.NewRealClock()
	player := newSimPlayer(clock)

	ch := channel.New(cfg.Client.ChannelEndpoint, channel.NewWebsocketDialer(), clock)
	identity := channel.Identity{Nickname: cfg.Client.Nickname}
	sess := session.New(clock, player, ch, identity)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Feed the reactive reconcile driver from the simulated player's ticks.
	go func() {
		ticker := clock.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				sess.OnPlayerTick()
			}
		}
	}()

	// Periodic status line.
	go func() {
		ticker := clock.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				stats := sess.Stats()
				log.Info().
					Str("phase", sess.Phase().String()).
					Str("channel", sess.ChannelState().String()).
					Int("viewers", stats.Viewers).
					Int("likes", stats.Likes).
					Int("messages", len(sess.Messages())).
					Msg("session status")
			}
		}
	}()

	interval := time.Duration(cfg.Client.PollIntervalSec) * time.Second
	sess.Run(ctx, event.NewHTTPSource(cfg.Client.EventURL), interval)
	log.Info().Msg("viewer stopped")
}

// simPlayer stands in for a real media transport: it advances its position
// with wall-clock time while playing and logs every command it receives.
type simPlayer struct {
	clock clockwork.Clock

	mu      sync.Mutex
	playing bool
	basePos time.Duration
	baseAt  time.Time
}

func newSimPlayer(clock clockwork.Clock) *simPlayer {
	return &simPlayer{clock: clock, baseAt: clock.Now()}
}

func (p *simPlayer) Position() (time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing {
		return p.basePos + p.clock.Since(p.baseAt), nil
	}
	return p.basePos, nil
}

func (p *simPlayer) Playing() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing, nil
}

func (p *simPlayer) SetPosition(pos time.Duration) error {
	p.mu.Lock()
	p.basePos = pos
	p.baseAt = p.clock.Now()
	p.mu.Unlock()
	log.Info().Dur("pos", pos).Msg("player seek")
	return nil
}

func (p *simPlayer) Play() error {
	p.mu.Lock()
	if !p.playing {
		p.playing = true
		p.baseAt = p.clock.Now()
	}
	p.mu.Unlock()
	log.Info().Msg("player play")
	return nil
}

func (p *simPlayer) Pause() error {
	p.mu.Lock()
	if p.playing {
		p.basePos += p.clock.Since(p.baseAt)
		p.playing = false
	}
	p.mu.Unlock()
	log.Info().Msg("player pause")
	return nil
}
