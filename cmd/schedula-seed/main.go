package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/spf13/cobra"

	"github.com/medibook/schedula/internal/config"
	"github.com/medibook/schedula/internal/service/schedules"
	"github.com/medibook/schedula/internal/store/postgres"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With(
		slog.String("service", "schedula-seed"),
	)

	if err := rootCmd(log).Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd(log *slog.Logger) *cobra.Command {
	var (
		opts    planOptions
		seed    uint64
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:          "schedula-seed",
		Short:        "Fill a development database with specialties, doctors, patients and weekly schedules",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseDriver != config.DriverPostgres {
				return fmt.Errorf("seeding requires the postgres driver, got %q", cfg.DatabaseDriver)
			}
			if seed == 0 {
				seed = uint64(time.Now().UnixNano())
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			db, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.PoolConfig{MaxOpenConns: 4, MaxIdleConns: 2})
			if err != nil {
				log.Error("database connection failed", slog.Any("err", err))
				return err
			}
			defer func() {
				if err := postgres.Close(db); err != nil {
					log.Warn("database close failed", slog.Any("err", err))
				}
			}()

			p := buildPlan(gofakeit.New(seed), opts)
			log.Info(
				"seed starting",
				slog.Uint64("seed", seed),
				slog.Int("specialties", len(p.specialties)),
				slog.Int("doctors", len(p.doctors)),
				slog.Int("patients", len(p.patients)),
			)

			if err := insertCatalog(ctx, db, p); err != nil {
				log.Error("catalog insert failed", slog.Any("err", err))
				return err
			}
			if err := applySchedules(ctx, schedules.NewService(postgres.NewSchedulingRepo(db)), p); err != nil {
				log.Error("weekly schedule seed failed", slog.Any("err", err))
				return err
			}

			log.Info("seed complete", slog.String("admin_user_id", p.admin.ID.String()))
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.Specialties, "specialties", 5, "number of specialties to create")
	flags.IntVar(&opts.Doctors, "doctors", 20, "number of doctors to create")
	flags.IntVar(&opts.Patients, "patients", 200, "number of patients to create")
	flags.Float64Var(&opts.UnapprovedRatio, "unapproved-ratio", 0.1, "share of doctors left unapproved")
	flags.Uint64Var(&seed, "seed", 0, "random seed, 0 picks one from the clock")
	flags.DurationVar(&timeout, "timeout", 2*time.Minute, "overall deadline")
	return cmd
}
