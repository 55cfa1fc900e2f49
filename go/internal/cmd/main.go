package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/sprintpoker/go/internal/gateway"
	"github.com/mcdev12/sprintpoker/go/internal/httpapi"
	"github.com/mcdev12/sprintpoker/go/internal/room"
	"github.com/mcdev12/sprintpoker/go/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file loaded")
	}
	setupLogging()

	cfg, err := loadConfig(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := setupStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up store")
	}
	defer st.Close()

	cm := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	go cm.Start(ctx)

	broadcaster, cleanup, err := setupBroadcast(ctx, cfg, cm)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up broadcast")
	}
	defer cleanup()

	clock := clockwork.NewRealClock()
	registry := room.NewRegistry(st, clock, broadcaster)
	gateway.NewGateway(registry, cm, clock)

	go runRetentionSweep(ctx, registry, cfg)

	server := setupServer(cfg.Server.Port, httpapi.NewHandler(registry, st), gateway.NewWebSocketHandler(cm))
	go func() {
		log.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func setupStore(ctx context.Context, cfg Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "postgres":
		log.Info().
			Str("host", cfg.Store.Postgres.Host).
			Str("database", cfg.Store.Postgres.Database).
			Msg("using postgres store")
		return store.NewPostgresStore(ctx, cfg.PostgresDSN())
	default:
		log.Info().Msg("using in-memory store")
		return store.NewMemoryStore(), nil
	}
}

// setupBroadcast picks the fan-out backend. The local backend delivers room
// events straight to this process's connection pools; the NATS backend
// publishes to JetStream and consumes the stream back into the pools, which
// also lets a separate gateway process serve the websockets.
func setupBroadcast(ctx context.Context, cfg Config, cm *gateway.ConnectionManager) (room.Broadcaster, func(), error) {
	if cfg.Broadcast.Backend != "nats" {
		return cm, func() {}, nil
	}

	jsCfg := gateway.DefaultJetStreamConfig()
	jsCfg.URL = cfg.Broadcast.NATSURL

	broadcaster, err := gateway.NewNATSBroadcaster(ctx, jsCfg)
	if err != nil {
		return nil, nil, err
	}
	consumer, err := gateway.NewEventConsumer(cm, jsCfg)
	if err != nil {
		broadcaster.Close()
		return nil, nil, err
	}
	go func() {
		if err := consumer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("event consumer stopped")
		}
	}()

	log.Info().Str("url", jsCfg.URL).Msg("using NATS broadcast")
	return broadcaster, func() {
		consumer.Stop()
		broadcaster.Close()
	}, nil
}

func runRetentionSweep(ctx context.Context, registry *room.Registry, cfg Config) {
	ticker := time.NewTicker(cfg.SweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := registry.SweepIdle(ctx, cfg.RetentionMaxAge()); err != nil {
				log.Error().Err(err).Msg("retention sweep failed")
			}
		}
	}
}
