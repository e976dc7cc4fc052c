package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"tasksetu-api/storage"
)

func runInitStorage(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Storage.ConnectionString == "" {
		return errors.New("missing storage config")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := storage.Provision(ctx, cfg.Storage.ConnectionString, cfg.StorageNames()); err != nil {
		return err
	}
	logger.Info("storage ready")
	return nil
}
