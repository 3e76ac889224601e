package metadata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/supporttools/GoSiteGuard/pkg/backuperr"
)

// DBStore keeps records in the MySQL metadata database.
type DBStore struct {
	db *gorm.DB
}

// NewDBStore wraps an open gorm connection.
func NewDBStore(db *gorm.DB) *DBStore {
	return &DBStore{db: db}
}

// CreateRecord inserts a new record.
func (s *DBStore) CreateRecord(ctx context.Context, rec *BackupRecord) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to create backup record: %w", err)
	}
	return nil
}

// GetRecord loads a record by ID.
func (s *DBStore) GetRecord(ctx context.Context, id string) (*BackupRecord, error) {
	var rec BackupRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, backuperr.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load backup record %s: %w", id, err)
	}
	return &rec, nil
}

// ListRecords returns every record, newest first.
func (s *DBStore) ListRecords(ctx context.Context) ([]BackupRecord, error) {
	var recs []BackupRecord
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list backup records: %w", err)
	}
	return recs, nil
}

// ListByStatus returns the records in the given state, oldest first.
func (s *DBStore) ListByStatus(ctx context.Context, status BackupStatus) ([]BackupRecord, error) {
	var recs []BackupRecord
	err := s.db.WithContext(ctx).Where("status = ?", status).Order("created_at ASC").Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list %s backup records: %w", status, err)
	}
	return recs, nil
}

// ListExpired returns COMPLETED records created before cutoff, oldest first.
func (s *DBStore) ListExpired(ctx context.Context, cutoff time.Time) ([]BackupRecord, error) {
	var recs []BackupRecord
	err := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", StatusCompleted, cutoff).
		Order("created_at ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list expired backup records: %w", err)
	}
	return recs, nil
}

// CompleteRecord moves a RUNNING record to COMPLETED.
func (s *DBStore) CompleteRecord(ctx context.Context, id string, size int64, completedAt time.Time) error {
	return s.finish(ctx, id, map[string]interface{}{
		"status":       StatusCompleted,
		"size":         size,
		"completed_at": completedAt,
	})
}

// FailRecord moves a RUNNING record to FAILED.
func (s *DBStore) FailRecord(ctx context.Context, id, message string, completedAt time.Time) error {
	return s.finish(ctx, id, map[string]interface{}{
		"status":        StatusFailed,
		"error_message": message,
		"completed_at":  completedAt,
	})
}

func (s *DBStore) finish(ctx context.Context, id string, updates map[string]interface{}) error {
	result := s.db.WithContext(ctx).Model(&BackupRecord{}).
		Where("id = ? AND status = ?", id, StatusRunning).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update backup record %s: %w", id, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&BackupRecord{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check backup record %s: %w", id, err)
	}
	if count == 0 {
		return backuperr.ErrRecordNotFound
	}
	return backuperr.ErrRecordNotRunning
}

// DeleteRecord removes a record.
func (s *DBStore) DeleteRecord(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&BackupRecord{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete backup record %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return backuperr.ErrRecordNotFound
	}
	return nil
}

// EnsureSchedule returns the schedule row, creating it from defaults first if needed.
func (s *DBStore) EnsureSchedule(ctx context.Context, defaults ScheduleSetting) (*ScheduleSetting, error) {
	existing, err := s.GetSchedule(ctx)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, backuperr.ErrRecordNotFound) {
		return nil, err
	}

	defaults.ID = ScheduleID
	if defaults.UpdatedAt.IsZero() {
		defaults.UpdatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(&defaults).Error; err != nil {
		return nil, fmt.Errorf("failed to seed backup schedule: %w", err)
	}
	return &defaults, nil
}

// GetSchedule loads the schedule row.
func (s *DBStore) GetSchedule(ctx context.Context) (*ScheduleSetting, error) {
	var setting ScheduleSetting
	err := s.db.WithContext(ctx).Where("id = ?", ScheduleID).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, backuperr.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load backup schedule: %w", err)
	}
	return &setting, nil
}

// SaveSchedule upserts the schedule row.
func (s *DBStore) SaveSchedule(ctx context.Context, setting *ScheduleSetting) error {
	setting.ID = ScheduleID
	setting.UpdatedAt = time.Now().UTC()

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(setting).Error
	if err != nil {
		return fmt.Errorf("failed to save backup schedule: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *DBStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database connection: %w", err)
	}
	return sqlDB.Close()
}
