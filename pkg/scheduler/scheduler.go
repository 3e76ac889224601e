// Package scheduler manages scheduled backup operations.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/supporttools/GoSiteGuard/pkg/backup"
	"github.com/supporttools/GoSiteGuard/pkg/config"
	"github.com/supporttools/GoSiteGuard/pkg/metadata"
)

// BackupRunner is the part of the backup manager the scheduler drives.
type BackupRunner interface {
	CreateBackup(ctx context.Context, opts backup.CreateOptions) (string, error)
	CleanOldBackups(ctx context.Context, retentionDays int) (int, error)
}

// ScheduleSource provides the persisted schedule.
type ScheduleSource interface {
	GetSchedule(ctx context.Context) (*metadata.ScheduleSetting, error)
}

// Scheduler runs automatic backups at the persisted interval
type Scheduler struct {
	runner   BackupRunner
	source   ScheduleSource
	settings func() config.AppConfig
	log      zerolog.Logger

	mu    sync.Mutex
	cron  *cron.Cron
	entry cron.EntryID
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithSettings replaces the configuration source.
func WithSettings(f func() config.AppConfig) Option {
	return func(s *Scheduler) { s.settings = f }
}

// WithLogger sets the scheduler's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

// NewScheduler creates a new scheduler
func NewScheduler(runner BackupRunner, source ScheduleSource, opts ...Option) *Scheduler {
	s := &Scheduler{
		runner:   runner,
		source:   source,
		settings: func() config.AppConfig { return config.CFG },
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start arms the scheduler from the persisted schedule. It does nothing when already armed or
// when the schedule is disabled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}

	setting, err := s.source.GetSchedule(ctx)
	if err != nil {
		return fmt.Errorf("failed to load backup schedule: %w", err)
	}
	if !setting.Enabled {
		s.log.Info().Msg("Automatic backups are disabled, scheduler not started")
		return nil
	}
	if setting.IntervalHours < 1 {
		return fmt.Errorf("interval must be at least 1 hour, got %d: %w", setting.IntervalHours, errdefs.ErrInvalidArgument)
	}

	logger := cron.PrintfLogger(&s.log)
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	interval := time.Duration(setting.IntervalHours) * time.Hour
	s.entry = c.Schedule(cron.Every(interval), cron.FuncJob(s.tick))
	c.Start()
	s.cron = c

	s.log.Info().
		Int("interval_hours", setting.IntervalHours).
		Time("next_run", c.Entry(s.entry).Next).
		Msg("Backup scheduler started")
	return nil
}

// Stop disarms the scheduler and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.entry = 0
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.log.Info().Msg("Backup scheduler stopped")
}

// Restart re-arms the scheduler from the current persisted schedule.
func (s *Scheduler) Restart(ctx context.Context) error {
	s.Stop()
	return s.Start(ctx)
}

// Running reports whether the scheduler is armed.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron != nil
}

// NextRun returns the next activation, or false when the scheduler is not armed.
func (s *Scheduler) NextRun() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return time.Time{}, false
	}
	entry := s.cron.Entry(s.entry)
	if !entry.Valid() || entry.Next.IsZero() {
		return time.Time{}, false
	}
	return entry.Next, true
}

// RunOnce runs one scheduled tick synchronously.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	return s.runTick(ctx)
}

func (s *Scheduler) tick() {
	if err := s.runTick(context.Background()); err != nil {
		s.log.Error().Err(err).Msg("Scheduled backup failed")
	}
}

// runTick re-reads the schedule so changes apply without a restart. Retention only runs after a
// successful backup.
func (s *Scheduler) runTick(ctx context.Context) error {
	setting, err := s.source.GetSchedule(ctx)
	if err != nil {
		return fmt.Errorf("failed to load backup schedule: %w", err)
	}
	if !setting.Enabled {
		s.log.Debug().Msg("Automatic backups disabled, skipping tick")
		return nil
	}
	if s.settings().Storage.IsLocal() {
		s.log.Warn().Msg("Object storage provider is local, skipping automatic backup")
		return nil
	}

	id, err := s.runner.CreateBackup(ctx, backup.CreateOptions{
		Type:            metadata.TypeAuto,
		IncludeDatabase: setting.IncludeDatabase,
		IncludeUploads:  setting.IncludeUploads,
		IncludeConfig:   setting.IncludeConfig,
	})
	if err != nil {
		return fmt.Errorf("automatic backup %s: %w", id, err)
	}
	s.log.Info().Str("backup_id", id).Msg("Automatic backup completed")

	deleted, err := s.runner.CleanOldBackups(ctx, setting.RetentionDays)
	if err != nil {
		return fmt.Errorf("retention sweep: %w", err)
	}
	if deleted > 0 {
		s.log.Info().Int("deleted", deleted).Int("retention_days", setting.RetentionDays).Msg("Removed expired backups")
	}
	return nil
}
