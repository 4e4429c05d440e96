package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/moviehall/cinelive/internal/config"
	"github.com/moviehall/cinelive/internal/event"
	"github.com/moviehall/cinelive/internal/server"
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

	clock := clockwork.NewRealClock()

	// The demo broadcast window is anchored to server start.
	start := clock.Now().Add(time.Duration(cfg.Event.StartInSec) * time.Second)
	demoEvent := &event.BroadcastEvent{
		ID:        cfg.Event.ID,
		Title:     cfg.Event.Title,
		VideoURI:  cfg.Event.VideoURI,
		StartAt:   start,
		EndAt:     start.Add(time.Duration(cfg.Event.DurationSec) * time.Second),
		UpdatedAt: clock.Now(),
	}

	hub := server.NewHub(clock)

	var bridge *server.Bridge
	if cfg.Server.NATSURL != "" {
		bridge, err = server.NewBridge(cfg.Server.NATSURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect room bridge")
		}
		defer bridge.Close()
		if err := bridge.Start(hub); err != nil {
			log.Fatal().Err(err).Msg("failed to start room bridge")
		}
		hub.SetBridge(bridge)
	}

	srv := server.New(hub, server.DefaultConnConfig(), func() *event.BroadcastEvent {
		return demoEvent
	})

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet, http.MethodPost},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      c.Handler(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Info().
		Str("port", cfg.Server.Port).
		Str("room", event.Room(demoEvent.ID)).
		Time("start_at", demoEvent.StartAt).
		Time("end_at", demoEvent.EndAt).
		Msg("starting cinelive server")

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("cinelive server shutdown complete")
}
