package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/stopka007/IoT-sub000/internal/cache"
	"github.com/stopka007/IoT-sub000/internal/config"
	"github.com/stopka007/IoT-sub000/internal/database"
	"github.com/stopka007/IoT-sub000/internal/live"
	"github.com/stopka007/IoT-sub000/internal/log"
	"github.com/stopka007/IoT-sub000/internal/queue"
	"github.com/stopka007/IoT-sub000/internal/repository"
	"github.com/stopka007/IoT-sub000/internal/service"
	"github.com/stopka007/IoT-sub000/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, "worker")
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := database.NewPostgresPool(ctx, cfg.Postgres, "ward-worker")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect postgres")
	}
	defer dbPool.Close()

	client, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer client.Close()

	store := repository.NewPgStore(dbPool)
	publisher := live.NewRedisPublisher(client, cfg.Redis.LiveChannel)
	devices := service.NewDeviceService(store, publisher, cfg.Telemetry.LowBatteryThreshold, logger.With().Str("service", "devices").Logger())

	processor := telemetry.NewProcessor(devices, logger.With().Str("component", "processor").Logger())
	consumer := queue.NewConsumer(
		client,
		cfg.Redis.Stream,
		cfg.Redis.Group,
		cfg.Redis.Consumer,
		cfg.Telemetry.ClaimInterval,
		logger,
		processor,
	)
	if err := consumer.EnsureGroup(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ensure consumer group failed")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := consumer.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if cfg.Telemetry.MQTTBroker != "" {
		bridge := telemetry.NewMQTTBridge(cfg.Telemetry, queue.NewProducer(client, cfg.Redis.Stream), logger.With().Str("component", "mqtt").Logger())
		g.Go(func() error {
			return bridge.Run(gctx)
		})
	} else {
		logger.Info().Msg("mqtt broker not configured, consuming stream only")
	}

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("worker stopped unexpectedly")
		return
	}
	logger.Info().Msg("worker exited cleanly")
}
