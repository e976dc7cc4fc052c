package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"tasksetu-api/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "tasksetu",
	Short:         "Task workflow API and activity feed",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Project queued activity records into the activity log",
	RunE:  runFeed,
}

var initStorageCmd = &cobra.Command{
	Use:   "init-storage",
	Short: "Create the tables and queue used by tasksetu",
	RunE:  runInitStorage,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("TASKSETU_CONFIG"), "path to a YAML config file")
	rootCmd.AddCommand(serveCmd, feedCmd, initStorageCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Fatal("tasksetu")
	}
}

// loadConfig reads and validates the configuration and returns a logger at
// the configured level.
func loadConfig() (*config.Config, *log.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
		log.SetLevel(log.DebugLevel)
	}
	return cfg, logger, nil
}
