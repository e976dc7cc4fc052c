package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tasksetu-api/api"
)

var (
	tokenName  string
	tokenAdmin bool
	tokenTTL   time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Print a test-mode bearer token for a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "display name claim")
	tokenCmd.Flags().BoolVar(&tokenAdmin, "admin", false, "grant the "+api.PermissionAdmin+" permission")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.TestSecret == "" {
		return errors.New("TEST_JWT_SECRET must be set")
	}
	var perms []string
	if tokenAdmin {
		perms = []string{api.PermissionAdmin}
	}
	tok, err := api.SignTestToken([]byte(cfg.Auth.TestSecret), args[0], tokenName, perms, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tok)
	return nil
}
