package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/supporttools/GoSiteGuard/pkg/api"
	"github.com/supporttools/GoSiteGuard/pkg/backup"
	"github.com/supporttools/GoSiteGuard/pkg/config"
	"github.com/supporttools/GoSiteGuard/pkg/database/postgres"
	"github.com/supporttools/GoSiteGuard/pkg/logging"
	"github.com/supporttools/GoSiteGuard/pkg/metadata"
	"github.com/supporttools/GoSiteGuard/pkg/scheduler"
	"github.com/supporttools/GoSiteGuard/pkg/tools"
	"github.com/supporttools/GoSiteGuard/pkg/version"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := config.LoadConfiguration(); err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(logging.Config{
		Level:  config.CFG.Log.Level,
		Format: config.CFG.Log.Format,
		Caller: config.CFG.Debug,
	})
	logging.Info().Str("version", version.Version).Str("commit", version.GitCommit).Msg("Starting GoSiteGuard")

	if err := config.ValidateConfig(); err != nil {
		logging.Fatal().Err(err).Msg("Configuration validation failed")
	}
	if config.CFG.Debug {
		config.DisplayConfiguration()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := metadata.Open(config.CFG)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize metadata store")
	}
	defer store.Close()

	if _, err := metadata.EnsureDefaultSchedule(ctx, store, config.CFG.Schedule); err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize backup schedule")
	}

	runner := tools.NewExecRunner(logging.With("runner"))
	locator := tools.NewLocator(runner, tools.WithLogger(logging.With("locator")))
	engine := postgres.NewEngine(locator, runner, config.DatabaseURL, logging.With("postgres"))

	manager := backup.NewManager(store, engine, backup.WithLogger(logging.With("backup")))

	// Records left RUNNING by a previous process can never finish.
	if n, err := manager.RecoverInterrupted(ctx); err != nil {
		logging.Error().Err(err).Msg("Failed to recover interrupted backups")
	} else if n > 0 {
		logging.Warn().Int("count", n).Msg("Marked interrupted backups as failed")
	}

	sched := scheduler.NewScheduler(manager, store, scheduler.WithLogger(logging.With("scheduler")))
	if err := sched.Start(ctx); err != nil {
		logging.Error().Err(err).Msg("Failed to start backup scheduler")
	}

	adminSrv := api.NewServer(manager, store, sched, api.WithLogger(logging.With("api")))
	if err := adminSrv.Start(); err != nil {
		logging.Fatal().Err(err).Msg("Failed to start admin server")
	}

	logging.Info().Msg("GoSiteGuard is running. Press Ctrl+C to exit.")
	<-ctx.Done()
	logging.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("Error shutting down admin server")
	}
	sched.Stop()
}
