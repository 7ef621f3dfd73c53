package main

import (
	"context"
	"flag"
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

	"github.com/lodgevision/signage/internal/api"
	"github.com/lodgevision/signage/internal/config"
	"github.com/lodgevision/signage/internal/events"
	"github.com/lodgevision/signage/internal/gateway"
	"github.com/lodgevision/signage/internal/pairing"
	"github.com/lodgevision/signage/internal/registry"
	"github.com/lodgevision/signage/internal/resolver"
	"github.com/lodgevision/signage/internal/syncgroup"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	setupLogging(cfg)
	clock := clockwork.NewRealClock()

	log.Info().
		Int("port", cfg.Server.Port).
		Dur("tick_interval", cfg.TickInterval()).
		Str("nats_url", cfg.NATS.URL).
		Msg("starting signage core")

	// Registry and sync group store. Single-box deployments run
	// entirely in memory; the persistence layer syncs through the
	// event bus.
	reg := registry.NewMemory()
	store := syncgroup.NewMemoryStore()

	// Real-time channel.
	manager := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	broker := pairing.NewBroker(reg, clock, cfg.Pairing.CodeLength, cfg.PairingExpiry())
	gw := gateway.NewService(manager, broker, reg)

	// Domain event publisher. Without NATS the core still runs, it
	// just emits nothing.
	var publisher events.Publisher = events.NoopPublisher{}
	var natsPub *events.NATSPublisher
	if cfg.NATS.URL != "" {
		natsPub, err = events.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect event publisher")
		}
		publisher = natsPub
	}

	coordinator := syncgroup.NewCoordinator(store, gw, publisher, clock, cfg.TickInterval())
	gw.SetCoordinatorHooks(coordinator)

	res := resolver.New(reg, reg, reg, reg, reg, coordinator, clock)

	router := api.NewRouter(coordinator, res, gw)
	handler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(router)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Broadcast fan-out loop.
	done := make(chan struct{})
	go gw.Run(done)

	// Entity-change bridge: external CRUD layers publish, displays
	// re-resolve.
	if cfg.NATS.URL != "" {
		consumerCfg := events.DefaultConsumerConfig()
		consumerCfg.URL = cfg.NATS.URL
		consumerCfg.StreamName = cfg.NATS.StreamName
		consumerCfg.ConsumerName = cfg.NATS.ConsumerName

		consumer, err := events.NewConsumer(gw, consumerCfg)
		if err != nil {
			log.Error().Err(err).Msg("entity-change consumer unavailable, continuing without it")
		} else {
			defer consumer.Stop()
			go func() {
				if err := consumer.Start(ctx); err != nil {
					log.Error().Err(err).Msg("entity-change consumer stopped")
				}
			}()
		}
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	cancel()
	coordinator.Shutdown()
	close(done)
	if natsPub != nil {
		natsPub.Close()
	}

	log.Info().Msg("signage core shutdown complete")
}

func setupLogging(cfg *config.Config) {
	if cfg.Log.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
