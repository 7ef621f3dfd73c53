package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lodgevision/signage/internal/client/agent"
	"github.com/lodgevision/signage/internal/client/clocksync"
	"github.com/lodgevision/signage/internal/client/drift"
	"github.com/lodgevision/signage/internal/client/offline"
	"github.com/lodgevision/signage/internal/client/player"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info")); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	cfg := agent.DefaultConfig()
	cfg.ServerURL = getEnv("SERVER_URL", "ws://localhost:8080/ws")
	cfg.DisplayID = getEnv("DISPLAY_ID", "")
	cfg.GroupID = getEnv("GROUP_ID", "")
	if cfg.DisplayID == "" {
		log.Fatal().Msg("DISPLAY_ID is required")
	}

	clock := clockwork.NewRealClock()
	est := clocksync.NewEstimator(clock)

	// Headless player; device builds swap in a real engine.
	media := player.NewSimulated(clock)
	media.SetReady(true)

	controller := drift.NewController(media, est, clock, log.Logger)

	queuePath := getEnv("QUEUE_PATH", "displayd-queue.db")
	queue, err := offline.Open(queuePath, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Str("path", queuePath).Msg("failed to open offline queue")
	}
	defer queue.Close()

	a := agent.New(cfg, controller, queue, func(reason string) {
		log.Info().Str("reason", reason).Msg("content refresh requested")
	}, log.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	log.Info().
		Str("server_url", cfg.ServerURL).
		Str("display_id", cfg.DisplayID).
		Msg("starting display agent")

	if err := a.Run(ctx); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("display agent stopped")
	}
	log.Info().Msg("display agent shutdown complete")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
