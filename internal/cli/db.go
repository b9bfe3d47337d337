package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/testforge-labs/testforge-go/internal/artifactstore"
	"github.com/testforge-labs/testforge-go/internal/config"
)

func dbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database utilities for the postgres store backend",
	}
	cmd.AddCommand(dbInitCmd())
	return cmd
}

func dbInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the run and artifact tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(rf.ConfigPath)
			if err != nil {
				return err
			}
			if cfg.Store.Backend != "postgres" {
				return fmt.Errorf("store backend is %q, db init applies to postgres only", cfg.Store.Backend)
			}
			ctx := cmd.Context()

			db, err := artifactstore.Open(ctx, cfg.Store.DatabaseURL, time.Duration(cfg.Store.PingTimeout))
			if err != nil {
				return err
			}
			defer db.Close()

			if _, err := db.ExecContext(ctx, artifactstore.Schema); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}
			fmt.Println("schema applied")
			return nil
		},
	}
}
