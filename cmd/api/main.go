package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stopka007/IoT-sub000/internal/cache"
	"github.com/stopka007/IoT-sub000/internal/config"
	"github.com/stopka007/IoT-sub000/internal/database"
	"github.com/stopka007/IoT-sub000/internal/handlers"
	"github.com/stopka007/IoT-sub000/internal/jobs"
	"github.com/stopka007/IoT-sub000/internal/live"
	"github.com/stopka007/IoT-sub000/internal/log"
	"github.com/stopka007/IoT-sub000/internal/queue"
	"github.com/stopka007/IoT-sub000/internal/repository"
	"github.com/stopka007/IoT-sub000/internal/server"
	"github.com/stopka007/IoT-sub000/internal/service"
	"github.com/stopka007/IoT-sub000/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, "api")
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.Security.JWTSecret == "" {
		logger.Error().Err(config.ErrMissingJWTSecret).Msg("token operations will fail until the secret is set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := database.NewPostgresPool(ctx, cfg.Postgres, "ward-api")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect postgres")
	}
	defer dbPool.Close()

	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer redisClient.Close()

	objectStore, err := storage.NewObjectStore(cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init object store")
	}
	if err := objectStore.EnsureBucket(ctx); err != nil {
		logger.Warn().Err(err).Msg("ensure archive bucket failed")
	}

	store := repository.NewPgStore(dbPool)
	publisher := live.NewRedisPublisher(redisClient, cfg.Redis.LiveChannel)
	services := service.NewServices(store, objectStore, publisher, cfg, logger)
	producer := queue.NewProducer(redisClient, cfg.Redis.Stream)

	registry := live.NewRegistry(logger.With().Str("component", "live").Logger())
	bridge := live.NewBridge(redisClient, cfg.Redis.LiveChannel, registry, logger.With().Str("component", "live_bridge").Logger())

	handlerSet := handlers.NewHandlerSet(logger, cfg, handlers.Dependencies{
		Services: services,
		Live:     live.NewHandler(registry, services.Auth, cfg.Live, logger.With().Str("component", "ws").Logger()),
		Tasks:    producer,
		Nonces:   cache.NewNonceStore(redisClient, "ward:nonce"),
		Checks: map[string]handlers.HealthCheck{
			"database": dbPool.Ping,
			"cache":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		},
	})
	httpServer := server.NewHTTPServer(cfg, logger, handlerSet)

	scheduler := jobs.NewScheduler(services.Auth, producer, logger.With().Str("component", "scheduler").Logger())
	if err := scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("scheduler start failed")
	}
	defer scheduler.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpServer.Start)
	g.Go(func() error {
		return runBridge(gctx, bridge, logger)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("api stopped with error")
		return
	}
	logger.Info().Msg("server exited cleanly")
}

// runBridge resubscribes after redis drops the subscription.
func runBridge(ctx context.Context, bridge *live.Bridge, logger zerolog.Logger) error {
	for {
		err := bridge.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil && !errors.Is(err, redis.ErrClosed) {
			logger.Warn().Err(err).Msg("live bridge stopped, resubscribing")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(2 * time.Second):
		}
	}
}
