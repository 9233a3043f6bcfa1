package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ehr/clinicqueue/internal/config"
	"github.com/ehr/clinicqueue/internal/domain/frontdesk"
	"github.com/ehr/clinicqueue/internal/platform/db"
	"github.com/ehr/clinicqueue/migrations"
)

func frontdeskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "frontdesk",
		Short: "Serve the front desk queue API backed by PostgreSQL",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.ValidateFrontDesk(); err != nil {
				return err
			}
			logger := newLogger(cfg)

			loc, err := cfg.Location()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, logger)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer pool.Close()

			if migrate, _ := cmd.Flags().GetBool("migrate"); migrate {
				n, err := db.NewMigrator(pool, migrations.FS, logger).Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				logger.Info().Int("applied", n).Msg("migrations applied")
			}

			svc := frontdesk.NewService(frontdesk.NewRepoPG(pool), loc, logger)

			e, api := newServer(cfg, logger, db.HealthHandler(pool))
			frontdesk.NewHandler(svc).RegisterRoutes(api)

			return runUntilSignal(e, cfg.Port, logger, nil)
		},
	}
	cmd.Flags().Bool("migrate", false, "Apply pending migrations before serving")
	cmd.AddCommand(seedCmd())
	return cmd
}
