// Command olive runs the derivatives lifecycle engine: a single
// deterministic core fed by NATS, persisted to Postgres, with a read-only
// HTTP API.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/Aurora0917/olive-sc-sub000/internal/config"
	"github.com/Aurora0917/olive-sc-sub000/internal/observability"
	"github.com/Aurora0917/olive-sc-sub000/internal/persistence"
)

func main() {
	root := &cobra.Command{
		Use:           "olive",
		Short:         "Leveraged-derivatives risk and lifecycle engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "path to config file (optional; env vars always apply)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newMigrateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the engine service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runService(cfg)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "migrate <up|down>",
		Short:     "Apply or roll back schema migrations",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := observability.NewLogger("migrate")

			db, err := sql.Open("postgres", cfg.Postgres.DSN)
			if err != nil {
				return fmt.Errorf("open postgres: %w", err)
			}
			defer db.Close()

			ctx := context.Background()
			migrator := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir, log)

			switch args[0] {
			case "up":
				if err := migrator.Up(ctx); err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				log.Info().Msg("all migrations applied")
			case "down":
				if err := migrator.Down(ctx); err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				log.Info().Msg("last migration rolled back")
			default:
				return fmt.Errorf("unknown direction %q (use up or down)", args[0])
			}
			return nil
		},
	}
	return cmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}
