package metadata

import (
	"context"
	"fmt"

	"github.com/supporttools/GoSiteGuard/pkg/config"
	"github.com/supporttools/GoSiteGuard/pkg/logging"
)

// Open returns the MySQL-backed store when the metadata database is enabled and the JSON file
// store otherwise.
func Open(cfg config.AppConfig) (Store, error) {
	if !cfg.MetadataDB.Enabled {
		logging.Info().Str("path", cfg.MetadataFile).Msg("Using file-based metadata store")
		return OpenFileStore(cfg.MetadataFile)
	}

	db, err := Connect(cfg.MetadataDB, cfg.Debug)
	if err != nil {
		return nil, err
	}
	if cfg.MetadataDB.AutoMigrate {
		if err := RunMigrations(db); err != nil {
			return nil, err
		}
		logging.Info().Msg("Metadata database migrations completed")
	}
	return NewDBStore(db), nil
}

// DefaultSchedule converts the configured schedule into the row seeded on first start.
func DefaultSchedule(cfg config.ScheduleConfig) ScheduleSetting {
	return ScheduleSetting{
		ID:              ScheduleID,
		Enabled:         cfg.Enabled,
		IntervalHours:   cfg.IntervalHours,
		RetentionDays:   cfg.RetentionDays,
		IncludeDatabase: cfg.IncludeDatabase,
		IncludeUploads:  cfg.IncludeUploads,
		IncludeConfig:   cfg.IncludeConfig,
	}
}

// EnsureDefaultSchedule seeds the schedule row from configuration if it does not exist yet.
func EnsureDefaultSchedule(ctx context.Context, store Store, cfg config.ScheduleConfig) (*ScheduleSetting, error) {
	setting, err := store.EnsureSchedule(ctx, DefaultSchedule(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to seed backup schedule: %w", err)
	}
	return setting, nil
}
