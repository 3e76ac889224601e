package metadata

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/natefinch/atomic"

	"github.com/supporttools/GoSiteGuard/pkg/backuperr"
)

const fileStoreVersion = 1

type fileContents struct {
	Version     int              `json:"version"`
	Records     []BackupRecord   `json:"records"`
	Schedule    *ScheduleSetting `json:"schedule,omitempty"`
	LastUpdated time.Time        `json:"lastUpdated"`
}

// FileStore keeps records in a JSON file. Every mutation rewrites the file atomically.
type FileStore struct {
	path string

	mu       sync.Mutex
	records  map[string]BackupRecord
	schedule *ScheduleSetting
}

// OpenFileStore loads the store at path; a missing file starts an empty store.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path:    path,
		records: map[string]BackupRecord{},
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create metadata directory: %w", err)
			}
		}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata file: %w", err)
	}

	var contents fileContents
	if err := json.Unmarshal(data, &contents); err != nil {
		return nil, fmt.Errorf("failed to parse metadata file %s: %w", path, err)
	}
	for _, rec := range contents.Records {
		s.records[rec.ID] = rec
	}
	s.schedule = contents.Schedule
	return s, nil
}

// save writes the current state; callers hold mu.
func (s *FileStore) save() error {
	contents := fileContents{
		Version:     fileStoreVersion,
		Records:     s.sortedLocked(),
		Schedule:    s.schedule,
		LastUpdated: time.Now().UTC(),
	}

	data, err := json.MarshalIndent(contents, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	return nil
}

func (s *FileStore) sortedLocked() []BackupRecord {
	recs := make([]BackupRecord, 0, len(s.records))
	for _, rec := range s.records {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
	return recs
}

// CreateRecord adds a record.
func (s *FileStore) CreateRecord(_ context.Context, rec *BackupRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; exists {
		return fmt.Errorf("backup record %s already exists", rec.ID)
	}
	s.records[rec.ID] = *rec
	if err := s.save(); err != nil {
		delete(s.records, rec.ID)
		return err
	}
	return nil
}

// GetRecord returns a copy of the record.
func (s *FileStore) GetRecord(_ context.Context, id string) (*BackupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, backuperr.ErrRecordNotFound
	}
	return &rec, nil
}

// ListRecords returns every record, newest first.
func (s *FileStore) ListRecords(_ context.Context) ([]BackupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked(), nil
}

// ListByStatus returns the records in the given state, oldest first.
func (s *FileStore) ListByStatus(_ context.Context, status BackupStatus) ([]BackupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.filterOldestFirst(func(r BackupRecord) bool { return r.Status == status }), nil
}

// ListExpired returns COMPLETED records created before cutoff, oldest first.
func (s *FileStore) ListExpired(_ context.Context, cutoff time.Time) ([]BackupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.filterOldestFirst(func(r BackupRecord) bool {
		return r.Status == StatusCompleted && r.CreatedAt.Before(cutoff)
	}), nil
}

func (s *FileStore) filterOldestFirst(keep func(BackupRecord) bool) []BackupRecord {
	all := s.sortedLocked()
	var out []BackupRecord
	for i := len(all) - 1; i >= 0; i-- {
		if keep(all[i]) {
			out = append(out, all[i])
		}
	}
	return out
}

// CompleteRecord moves a RUNNING record to COMPLETED.
func (s *FileStore) CompleteRecord(_ context.Context, id string, size int64, completedAt time.Time) error {
	return s.finish(id, func(r *BackupRecord) {
		r.Status = StatusCompleted
		r.Size = size
		r.CompletedAt = &completedAt
	})
}

// FailRecord moves a RUNNING record to FAILED.
func (s *FileStore) FailRecord(_ context.Context, id, message string, completedAt time.Time) error {
	return s.finish(id, func(r *BackupRecord) {
		r.Status = StatusFailed
		r.ErrorMessage = message
		r.CompletedAt = &completedAt
	})
}

func (s *FileStore) finish(id string, apply func(*BackupRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return backuperr.ErrRecordNotFound
	}
	if rec.Status != StatusRunning {
		return backuperr.ErrRecordNotRunning
	}

	previous := rec
	apply(&rec)
	s.records[id] = rec
	if err := s.save(); err != nil {
		s.records[id] = previous
		return err
	}
	return nil
}

// DeleteRecord removes a record.
func (s *FileStore) DeleteRecord(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return backuperr.ErrRecordNotFound
	}
	delete(s.records, id)
	if err := s.save(); err != nil {
		s.records[id] = rec
		return err
	}
	return nil
}

// EnsureSchedule returns the schedule, seeding it from defaults first if needed.
func (s *FileStore) EnsureSchedule(_ context.Context, defaults ScheduleSetting) (*ScheduleSetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule != nil {
		copied := *s.schedule
		return &copied, nil
	}

	defaults.ID = ScheduleID
	if defaults.UpdatedAt.IsZero() {
		defaults.UpdatedAt = time.Now().UTC()
	}
	s.schedule = &defaults
	if err := s.save(); err != nil {
		s.schedule = nil
		return nil, err
	}
	copied := defaults
	return &copied, nil
}

// GetSchedule returns the schedule.
func (s *FileStore) GetSchedule(_ context.Context) (*ScheduleSetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == nil {
		return nil, backuperr.ErrRecordNotFound
	}
	copied := *s.schedule
	return &copied, nil
}

// SaveSchedule replaces the schedule.
func (s *FileStore) SaveSchedule(_ context.Context, setting *ScheduleSetting) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	setting.ID = ScheduleID
	setting.UpdatedAt = time.Now().UTC()

	previous := s.schedule
	copied := *setting
	s.schedule = &copied
	if err := s.save(); err != nil {
		s.schedule = previous
		return err
	}
	return nil
}

// Close is a no-op; every mutation is already on disk.
func (s *FileStore) Close() error {
	return nil
}
