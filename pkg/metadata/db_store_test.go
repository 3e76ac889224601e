package metadata

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/supporttools/GoSiteGuard/pkg/backuperr"
	"github.com/supporttools/GoSiteGuard/pkg/config"
)

var recordColumns = []string{
	"id", "filename", "type", "status", "format", "storage_path", "size",
	"include_database", "include_uploads", "include_config", "error_message", "created_at", "completed_at",
}

func newMockStore(t *testing.T) (*DBStore, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	dialector := mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	})
	db, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	return NewDBStore(db), mock
}

func TestDBStoreCreateRecord(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO `backup_records`").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.CreateRecord(context.Background(), &BackupRecord{
		ID:              "6f1c0d1e-0000-4000-8000-000000000001",
		Filename:        "backup-20240102-030405-db.dump",
		Type:            TypeManual,
		Status:          StatusRunning,
		Format:          "raw",
		StoragePath:     "backups/backup-20240102-030405-db.dump",
		IncludeDatabase: true,
		CreatedAt:       time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStoreGetRecord(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery("SELECT \\* FROM `backup_records` WHERE id = \\?").
		WillReturnRows(sqlmock.NewRows(recordColumns).AddRow(
			"rec-1", "backup-20240102-030405-db-up.tar.gz", "AUTO", "COMPLETED", "bundle",
			"backups/backup-20240102-030405-db-up.tar.gz", 2048, true, true, false, "", created, created,
		))

	rec, err := store.GetRecord(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Equal(t, "rec-1", rec.ID)
	assert.Equal(t, TypeAuto, rec.Type)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, "bundle", rec.Format)
	assert.Equal(t, int64(2048), rec.Size)
	assert.Equal(t, 2, rec.IncludeCount())
	require.NotNil(t, rec.CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStoreGetRecordNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT \\* FROM `backup_records` WHERE id = \\?").
		WillReturnRows(sqlmock.NewRows(recordColumns))

	_, err := store.GetRecord(context.Background(), "missing")
	assert.ErrorIs(t, err, backuperr.ErrRecordNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStoreCompleteRecordIsConditional(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectExec("UPDATE `backup_records` SET .* WHERE id = \\? AND status = \\?").
		WithArgs(sqlmock.AnyArg(), int64(10), sqlmock.AnyArg(), "rec-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.CompleteRecord(context.Background(), "rec-1", 10, now))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStoreFinishTwice(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE `backup_records` SET").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `backup_records` WHERE id = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(1))

	err := store.FailRecord(context.Background(), "rec-1", "pg_dump failed", time.Now())
	assert.ErrorIs(t, err, backuperr.ErrRecordNotRunning)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStoreFinishMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE `backup_records` SET").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `backup_records`").
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(0))

	err := store.CompleteRecord(context.Background(), "missing", 1, time.Now())
	assert.ErrorIs(t, err, backuperr.ErrRecordNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStoreListExpired(t *testing.T) {
	store, mock := newMockStore(t)
	old := time.Now().Add(-40 * 24 * time.Hour).UTC()

	mock.ExpectQuery("SELECT \\* FROM `backup_records` WHERE status = \\? AND created_at < \\? ORDER BY created_at ASC").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow("old-1", "a.dump", "AUTO", "COMPLETED", "raw", "backups/a.dump", 1, true, false, false, "", old, old))

	recs, err := store.ListExpired(context.Background(), time.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "old-1", recs[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStoreListRecordsNewestFirst(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT \\* FROM `backup_records` ORDER BY created_at DESC").
		WillReturnRows(sqlmock.NewRows(recordColumns))

	recs, err := store.ListRecords(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStoreDeleteRecord(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM `backup_records` WHERE id = \\?").
		WithArgs("rec-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM `backup_records` WHERE id = \\?").
		WithArgs("rec-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.DeleteRecord(context.Background(), "rec-1"))
	assert.ErrorIs(t, store.DeleteRecord(context.Background(), "rec-1"), backuperr.ErrRecordNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStoreEnsureScheduleSeeds(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT \\* FROM `backup_schedule` WHERE id = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"id", "enabled", "interval_hours"}))
	mock.ExpectExec("INSERT INTO `backup_schedule`").
		WillReturnResult(sqlmock.NewResult(1, 1))

	setting, err := store.EnsureSchedule(context.Background(), ScheduleSetting{
		Enabled:         true,
		IntervalHours:   24,
		RetentionDays:   30,
		IncludeDatabase: true,
	})
	require.NoError(t, err)
	assert.Equal(t, uint(ScheduleID), setting.ID)
	assert.Equal(t, 24, setting.IntervalHours)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStoreEnsureScheduleKeepsExisting(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT \\* FROM `backup_schedule` WHERE id = \\?").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "enabled", "interval_hours", "retention_days", "include_database", "include_uploads", "include_config", "updated_at",
		}).AddRow(1, false, 6, 3, true, true, true, time.Now()))

	setting, err := store.EnsureSchedule(context.Background(), ScheduleSetting{Enabled: true, IntervalHours: 24})
	require.NoError(t, err)
	assert.False(t, setting.Enabled)
	assert.Equal(t, 6, setting.IntervalHours)
	assert.Equal(t, 3, setting.RetentionDays)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStoreSaveSchedule(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
	}{
		{"first save inserts", 1},
		{"changed row updates", 2},
		{"unchanged row", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)

			mock.ExpectExec("INSERT INTO `backup_schedule` .* ON DUPLICATE KEY UPDATE").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			setting := &ScheduleSetting{Enabled: true, IntervalHours: 12, RetentionDays: 7, IncludeUploads: true}
			require.NoError(t, store.SaveSchedule(context.Background(), setting))
			assert.Equal(t, uint(ScheduleID), setting.ID)
			assert.False(t, setting.UpdatedAt.IsZero())
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestDSN(t *testing.T) {
	dsn := DSN(config.MetadataDBConfig{
		Host:     "metadata.internal",
		Port:     3307,
		Username: "guard",
		Password: "p@ss",
		Database: "records",
	})

	assert.True(t, strings.HasPrefix(dsn, "guard:p@ss@tcp(metadata.internal:3307)/records?"), dsn)
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "charset=utf8mb4")
}

func TestScheduleSettingValidate(t *testing.T) {
	valid := ScheduleSetting{IntervalHours: 1, RetentionDays: 0, IncludeConfig: true}
	assert.NoError(t, valid.Validate())

	zeroInterval := valid
	zeroInterval.IntervalHours = 0
	assert.Error(t, zeroInterval.Validate())

	negative := valid
	negative.RetentionDays = -1
	assert.Error(t, negative.Validate())

	nothing := valid
	nothing.IncludeConfig = false
	assert.Error(t, nothing.Validate())
}
