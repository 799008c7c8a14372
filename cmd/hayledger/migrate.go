package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/hay-ledger/logging"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := logging.Init(cfg.LogLevel, cfg.LogPretty)

		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()
		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		logger.Info().Str("driver", cfg.DBDriver).Msg("schema is up to date")
		return nil
	},
}
