package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/merchfeed/merchfeed/migrator"
	"github.com/merchfeed/merchfeed/migrator/config"
	"github.com/merchfeed/merchfeed/pkg/logger"
	"github.com/merchfeed/merchfeed/pkg/pgxdb"
)

// These values are overridden at build time using -ldflags
var (
	version = "dev"
	date    = "unknown"
)

func main() {
	// Load configuration from environment
	cfg := config.New()

	// Initialize logger and set as default
	log := logger.NewFromConfig(logger.Config{
		LogLevel:         cfg.LogLevel,
		LogHumanFriendly: cfg.LogHumanFriendly,
	})
	slog.SetDefault(log)

	log.Info("Starting database migrator service",
		slog.String("migrationsDir", cfg.MigrationsDir),
		slog.String("version", version),
		slog.String("date", date),
	)

	// Create a context that cancels on SIGINT/SIGTERM _or_ when the timeout elapses
	baseCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(baseCtx, cfg.OperationTimeout)
	defer cancel()

	// Connect to database
	db, err := pgxdb.NewConnection(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("Failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Apply migrations
	log.Info("Applying database migrations")
	if err := migrator.ApplyMigrations(db, cfg.MigrationsDir); err != nil {
		log.Error("Failed to apply migrations", slog.Any("error", err))
		os.Exit(1)
	}
	log.Info("Database migrations applied successfully")

	// Seed cost schedules if a file is configured
	if cfg.CostScheduleFile != "" {
		log.Info("Seeding cost schedules", slog.String("file", cfg.CostScheduleFile))
		seeded, err := migrator.SeedCostSchedules(ctx, db, cfg.CostScheduleFile)
		if err != nil {
			log.Error("Failed to seed cost schedules", slog.Any("error", err))
			os.Exit(1)
		}
		log.Info("Cost schedules seeded successfully", slog.Int("rows", seeded))
	}

	log.Info("Database migrator completed successfully")
}
