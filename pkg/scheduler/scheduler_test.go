package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supporttools/GoSiteGuard/pkg/backup"
	"github.com/supporttools/GoSiteGuard/pkg/config"
	"github.com/supporttools/GoSiteGuard/pkg/metadata"
)

type fakeRunner struct {
	mu         sync.Mutex
	created    []backup.CreateOptions
	retentions []int
	createErr  error
}

func (r *fakeRunner) CreateBackup(_ context.Context, opts backup.CreateOptions) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, opts)
	if r.createErr != nil {
		return "failed-id", r.createErr
	}
	return "backup-id", nil
}

func (r *fakeRunner) CleanOldBackups(_ context.Context, days int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retentions = append(r.retentions, days)
	return 1, nil
}

type fakeSource struct {
	mu      sync.Mutex
	setting metadata.ScheduleSetting
	err     error
}

func (s *fakeSource) GetSchedule(context.Context) (*metadata.ScheduleSetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	copied := s.setting
	return &copied, nil
}

func newTestScheduler(setting metadata.ScheduleSetting, provider string) (*Scheduler, *fakeRunner, *fakeSource) {
	runner := &fakeRunner{}
	source := &fakeSource{setting: setting}
	cfg := config.AppConfig{Storage: config.StorageConfig{Provider: provider, Bucket: "b"}}
	s := NewScheduler(runner, source, WithSettings(func() config.AppConfig { return cfg }))
	return s, runner, source
}

func enabledSetting() metadata.ScheduleSetting {
	return metadata.ScheduleSetting{
		Enabled:         true,
		IntervalHours:   6,
		RetentionDays:   14,
		IncludeDatabase: true,
		IncludeConfig:   true,
	}
}

func TestStartArmsAndIsIdempotent(t *testing.T) {
	s, _, _ := newTestScheduler(enabledSetting(), "s3")
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	defer s.Stop()
	assert.True(t, s.Running())

	next, ok := s.NextRun()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(6*time.Hour), next, time.Minute)

	require.NoError(t, s.Start(ctx))
	again, ok := s.NextRun()
	require.True(t, ok)
	assert.Equal(t, next, again, "second start keeps the existing schedule")
}

func TestStartDisabled(t *testing.T) {
	setting := enabledSetting()
	setting.Enabled = false
	s, _, _ := newTestScheduler(setting, "s3")

	require.NoError(t, s.Start(context.Background()))
	assert.False(t, s.Running())
	_, ok := s.NextRun()
	assert.False(t, ok)
}

func TestStartRejectsInvalidInterval(t *testing.T) {
	setting := enabledSetting()
	setting.IntervalHours = 0
	s, _, _ := newTestScheduler(setting, "s3")

	err := s.Start(context.Background())
	assert.True(t, errdefs.IsInvalidArgument(err))
	assert.False(t, s.Running())
}

func TestStartScheduleLoadError(t *testing.T) {
	s, _, source := newTestScheduler(enabledSetting(), "s3")
	source.err = errors.New("db down")

	assert.Error(t, s.Start(context.Background()))
	assert.False(t, s.Running())
}

func TestRestartPicksUpNewInterval(t *testing.T) {
	s, _, source := newTestScheduler(enabledSetting(), "s3")
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	source.mu.Lock()
	source.setting.IntervalHours = 1
	source.mu.Unlock()

	require.NoError(t, s.Restart(ctx))
	next, ok := s.NextRun()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Hour), next, time.Minute)
}

func TestStopWhenNotRunning(t *testing.T) {
	s, _, _ := newTestScheduler(enabledSetting(), "s3")
	s.Stop()
	assert.False(t, s.Running())
}

func TestRunOnceUsesCurrentSetting(t *testing.T) {
	s, runner, source := newTestScheduler(enabledSetting(), "s3")

	source.mu.Lock()
	source.setting.IncludeUploads = true
	source.setting.RetentionDays = 3
	source.mu.Unlock()

	require.NoError(t, s.RunOnce(context.Background()))
	require.Len(t, runner.created, 1)
	assert.Equal(t, backup.CreateOptions{
		Type:            metadata.TypeAuto,
		IncludeDatabase: true,
		IncludeUploads:  true,
		IncludeConfig:   true,
	}, runner.created[0])
	assert.Equal(t, []int{3}, runner.retentions)
}

func TestRunOnceSkips(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		setting := enabledSetting()
		setting.Enabled = false
		s, runner, _ := newTestScheduler(setting, "s3")

		require.NoError(t, s.RunOnce(context.Background()))
		assert.Empty(t, runner.created)
	})

	t.Run("local provider", func(t *testing.T) {
		s, runner, _ := newTestScheduler(enabledSetting(), config.LocalProvider)

		require.NoError(t, s.RunOnce(context.Background()))
		assert.Empty(t, runner.created)
		assert.Empty(t, runner.retentions)
	})
}

func TestRunOnceBackupFailureSkipsRetention(t *testing.T) {
	s, runner, _ := newTestScheduler(enabledSetting(), "s3")
	runner.createErr = errors.New("pg_dump failed")

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pg_dump failed")
	assert.Empty(t, runner.retentions)
}
