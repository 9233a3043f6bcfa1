package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ehr/clinicqueue/internal/config"
	"github.com/ehr/clinicqueue/internal/domain/frontdesk"
	"github.com/ehr/clinicqueue/internal/platform/db"
	"github.com/ehr/clinicqueue/internal/platform/sandbox"
)

func seedCmd() *cobra.Command {
	defaults := sandbox.DefaultSeedConfig()
	var sc sandbox.SeedConfig

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill today's front desk with a reproducible demo clinic day",
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

			svc := frontdesk.NewService(frontdesk.NewRepoPG(pool), loc, logger)
			res, err := sandbox.NewSeeder(sc, logger).Seed(ctx, svc)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d doctors (%d on duty), %d patients, %d treatments, %d queued\n",
				res.Doctors, res.OnDuty, res.Patients, res.Treatments, res.Queued)
			return nil
		},
	}
	cmd.Flags().IntVar(&sc.DoctorCount, "doctors", defaults.DoctorCount, "Doctors on the roster")
	cmd.Flags().IntVar(&sc.OnDutyCount, "on-duty", defaults.OnDutyCount, "Doctors put on duty today")
	cmd.Flags().IntVar(&sc.PatientCount, "patients", defaults.PatientCount, "Registered patients")
	cmd.Flags().IntVar(&sc.QueuedCount, "queued", defaults.QueuedCount, "Patients queued today")
	cmd.Flags().IntVar(&sc.MaxTreatments, "max-treatments", defaults.MaxTreatments, "Upper bound of past treatments per patient")
	cmd.Flags().Int64Var(&sc.Seed, "seed", 0, "Random seed; 0 picks one from the clock")
	return cmd
}
