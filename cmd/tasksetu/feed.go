package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"tasksetu-api/activity"
	"tasksetu-api/feed"
	"tasksetu-api/storage"
)

func runFeed(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.LocalMode {
		return errors.New("feed needs Azure Storage, it cannot run in local mode")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	store, err := storage.New(cfg.Storage.ConnectionString, cfg.StorageNames())
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	opts, err := cfg.RedisOptions()
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	rc := redis.NewClient(opts)
	defer rc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := feed.NewProcessor(store, activity.NewPublisher(rc, cfg.Redis.ActivityChannel), logger)
	logger.WithField("queue", cfg.Storage.ActivityQueue).Info("feed started")
	return p.Run(ctx, store, cfg.Feed.IdleWait)
}
