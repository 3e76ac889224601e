package metadata

import (
	"context"
	"time"
)

// Store persists backup records and the schedule row.
//
// CompleteRecord and FailRecord only apply to a RUNNING record and return
// backuperr.ErrRecordNotRunning otherwise, so a record is finished exactly once.
type Store interface {
	CreateRecord(ctx context.Context, rec *BackupRecord) error
	GetRecord(ctx context.Context, id string) (*BackupRecord, error)
	// ListRecords returns every record, newest first.
	ListRecords(ctx context.Context) ([]BackupRecord, error)
	ListByStatus(ctx context.Context, status BackupStatus) ([]BackupRecord, error)
	// ListExpired returns COMPLETED records created before cutoff.
	ListExpired(ctx context.Context, cutoff time.Time) ([]BackupRecord, error)
	CompleteRecord(ctx context.Context, id string, size int64, completedAt time.Time) error
	FailRecord(ctx context.Context, id, message string, completedAt time.Time) error
	DeleteRecord(ctx context.Context, id string) error

	// EnsureSchedule seeds the schedule row from defaults when it does not exist yet.
	EnsureSchedule(ctx context.Context, defaults ScheduleSetting) (*ScheduleSetting, error)
	GetSchedule(ctx context.Context) (*ScheduleSetting, error)
	SaveSchedule(ctx context.Context, s *ScheduleSetting) error

	Close() error
}
