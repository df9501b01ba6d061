package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/danghamo/proximity/internal/api"
	"github.com/danghamo/proximity/internal/app/service"
	"github.com/danghamo/proximity/internal/cqrs"
	"github.com/danghamo/proximity/internal/domain/position"
	"github.com/danghamo/proximity/internal/observability"
	"github.com/danghamo/proximity/pkg/config"
	"github.com/danghamo/proximity/pkg/redisx"
)

// set with -ldflags "-X main.version=..."
var version = "0.1.0"

func main() {
	// Initialize configuration and logger
	cfg, log, err := config.Initialize()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	// Ensure logger is flushed on exit
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting proximity game host",
		zap.String("version", version),
		zap.String("environment", cfg.Server.Environment),
		zap.Strings("modes", cfg.Game.Modes),
	)

	// Without Redis there is no location capability: device and polling
	// sessions report an unknown position and the controls session starts unseeded.
	var (
		redisClient *redisx.Client
		locator     position.Locator
	)
	if cfg.Redis.Enabled() {
		redisClient, err = redisx.NewClient(cfg.Redis.URL, log, redisx.WithDB(cfg.Redis.DB))
		if err != nil {
			log.Fatal("Failed to initialize Redis client", zap.Error(err))
		}
		defer redisClient.Close()

		redisLocator, err := position.NewRedisLocator(redisClient, position.RedisLocatorConfig{
			CurrentKey: cfg.Redis.CurrentKey,
			FixTopic:   cfg.Redis.FixTopic,
		FixTTL:     cfg.Redis.FixTTL,
		}, log)
		if err != nil {
			log.Fatal("Failed to initialize location capability", zap.Error(err))
		}
		defer redisLocator.Close()
		locator = redisLocator
	} else {
		log.Warn("Redis disabled, running without a location capability")
	}

	bus, err := cqrs.NewBus(log)
	if err != nil {
		log.Fatal("Failed to create event bus", zap.Error(err))
	}

	metrics, err := observability.NewGameCollector(prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatal("Failed to register metrics", zap.Error(err))
	}

	sessions, err := service.BuildSessions(cfg, locator, bus, metrics, log)
	if err != nil {
		log.Fatal("Failed to build sessions", zap.Error(err))
	}

	apiServer, err := api.NewServer(cfg, api.Dependencies{
		Sessions: sessions,
		Bus:      bus,
		Metrics:  metrics,
		Redis:    redisClient,
		Logger:   log,
		Version:  version,
	})
	if err != nil {
		log.Fatal("Failed to create API server", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start the event bus before any session publishes
	go func() {
		if err := bus.Run(ctx); err != nil {
			log.Error("Event bus error", zap.Error(err))
		}
	}()
	<-bus.Running()

	sessions.StartAll(ctx)

	serveErr := apiServer.Start(ctx)
	log.Info("Shutting down sessions...")

	// sessions publish through the bus, so they stop first
	sessions.StopAll()
	if err := bus.Close(); err != nil {
		log.Error("Event bus shutdown error", zap.Error(err))
	}

	if serveErr != nil {
		log.Error("Server error", zap.Error(serveErr))
		os.Exit(1)
	}

	log.Info("Server gracefully stopped")
}
