package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/confops/confops/pkg/config"
	"github.com/confops/confops/pkg/notify"
	"github.com/confops/confops/pkg/store/postgres"
	redisclient "github.com/confops/confops/pkg/store/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	db, err := postgres.NewStore(&cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	redis, err := redisclient.NewClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	if redis == nil {
		logger.Fatal("notify relay requires redis to be enabled")
	}
	defer redis.Close()

	bus := notify.NewBus(redis.Client())
	relay := notify.NewRelay(db.DB(), bus, logger, cfg.Notify.PollInterval, cfg.Notify.BatchSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := relay.Run(ctx); err != nil && err != context.Canceled {
			logger.Fatal("notify relay stopped with error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("notify relay shutting down")
}
