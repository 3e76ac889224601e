// Package metadata persists backup records and the backup schedule.
package metadata

import (
	"fmt"
	"time"

	"github.com/containerd/errdefs"
)

// BackupType tells scheduled backups from operator-triggered ones.
type BackupType string

const (
	TypeAuto   BackupType = "AUTO"
	TypeManual BackupType = "MANUAL"
)

// BackupStatus is the lifecycle state of a backup record.
type BackupStatus string

const (
	StatusPending   BackupStatus = "PENDING"
	StatusRunning   BackupStatus = "RUNNING"
	StatusCompleted BackupStatus = "COMPLETED"
	StatusFailed    BackupStatus = "FAILED"
)

// BackupRecord is the durable trace of one backup attempt.
type BackupRecord struct {
	ID              string       `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Filename        string       `gorm:"type:varchar(255);not null" json:"filename"`
	Type            BackupType   `gorm:"type:varchar(16);not null;index" json:"type"`
	Status          BackupStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	Format          string       `gorm:"type:varchar(16)" json:"format,omitempty"` // raw or bundle
	StoragePath     string       `gorm:"type:varchar(512);not null" json:"storagePath"`
	Size            int64        `gorm:"not null;default:0" json:"size"`
	IncludeDatabase bool         `gorm:"not null" json:"includeDatabase"`
	IncludeUploads  bool         `gorm:"not null" json:"includeUploads"`
	IncludeConfig   bool         `gorm:"not null" json:"includeConfig"`
	ErrorMessage    string       `gorm:"type:text" json:"errorMessage,omitempty"`
	CreatedAt       time.Time    `gorm:"not null;index" json:"createdAt"`
	CompletedAt     *time.Time   `json:"completedAt,omitempty"`
}

// TableName specifies the table name for the BackupRecord model
func (BackupRecord) TableName() string {
	return "backup_records"
}

// IncludeCount returns how many segments the record asked for.
func (r *BackupRecord) IncludeCount() int {
	n := 0
	for _, b := range []bool{r.IncludeDatabase, r.IncludeUploads, r.IncludeConfig} {
		if b {
			n++
		}
	}
	return n
}

// ScheduleID is the primary key of the single schedule row.
const ScheduleID = 1

// ScheduleSetting controls automatic backups. There is exactly one row.
type ScheduleSetting struct {
	ID              uint      `gorm:"primaryKey" json:"-"`
	Enabled         bool      `gorm:"not null" json:"enabled"`
	IntervalHours   int       `gorm:"not null" json:"intervalHours"`
	RetentionDays   int       `gorm:"not null" json:"retentionDays"`
	IncludeDatabase bool      `gorm:"not null" json:"includeDatabase"`
	IncludeUploads  bool      `gorm:"not null" json:"includeUploads"`
	IncludeConfig   bool      `gorm:"not null" json:"includeConfig"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// TableName specifies the table name for the ScheduleSetting model
func (ScheduleSetting) TableName() string {
	return "backup_schedule"
}

// Validate checks the setting before it is stored.
func (s *ScheduleSetting) Validate() error {
	if s.IntervalHours < 1 {
		return fmt.Errorf("intervalHours must be at least 1, got %d: %w", s.IntervalHours, errdefs.ErrInvalidArgument)
	}
	if s.RetentionDays < 0 {
		return fmt.Errorf("retentionDays cannot be negative, got %d: %w", s.RetentionDays, errdefs.ErrInvalidArgument)
	}
	if !s.IncludeDatabase && !s.IncludeUploads && !s.IncludeConfig {
		return fmt.Errorf("at least one segment must be included: %w", errdefs.ErrInvalidArgument)
	}
	return nil
}
