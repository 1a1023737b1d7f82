package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bnema/waveshift/config"
	sqlitestore "github.com/bnema/waveshift/internal/adapter/storage/sqlite"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.StoreDriver != config.StoreSQLite {
				fmt.Fprintf(cmd.OutOrStdout(), "store driver %s has no schema to migrate\n", cfg.StoreDriver)
				return nil
			}

			if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
				return fmt.Errorf("create data directory: %w", err)
			}
			// Opening the store applies every pending migration.
			store, err := sqlitestore.NewStore(cfg.DataDir)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			v, err := store.SchemaVersion()
			if err != nil {
				return fmt.Errorf("read schema version: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", v)
			return nil
		},
	}
}
