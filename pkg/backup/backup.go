// Package backup orchestrates site backups, restores and retention.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/supporttools/GoSiteGuard/pkg/archive"
	"github.com/supporttools/GoSiteGuard/pkg/backuperr"
	"github.com/supporttools/GoSiteGuard/pkg/config"
	"github.com/supporttools/GoSiteGuard/pkg/metadata"
	"github.com/supporttools/GoSiteGuard/pkg/metrics"
	"github.com/supporttools/GoSiteGuard/pkg/storage/s3"
)

// storagePrefix is prepended to every artifact filename to form its storage path.
const storagePrefix = "backups/"

// DumpEngine dumps and restores the site database.
type DumpEngine interface {
	Dump(ctx context.Context, outputPath string) error
	Restore(ctx context.Context, inputPath string) error
}

// SegmentPacker archives and restores the uploads and config segments.
type SegmentPacker interface {
	PackUploads(ctx context.Context, out string) (archive.Segment, error)
	PackConfig(ctx context.Context, out string) (archive.Segment, error)
	UnpackUploads(ctx context.Context, in string) error
	UnpackConfig(ctx context.Context, in string) error
}

// ObjectStorage is the remote artifact store.
type ObjectStorage interface {
	Upload(ctx context.Context, localPath, key string) error
	Download(ctx context.Context, key, localPath string) error
	Delete(ctx context.Context, key string) error
	Head(ctx context.Context, key string) (*s3.ObjectInfo, error)
	PresignedDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// StorageFactory builds a storage client from the current settings.
type StorageFactory func(cfg config.StorageConfig) (ObjectStorage, error)

// PackerFactory builds a packer from the current settings.
type PackerFactory func(cfg config.AppConfig) SegmentPacker

// CreateOptions selects what a backup contains.
type CreateOptions struct {
	Type            metadata.BackupType
	IncludeDatabase bool
	IncludeUploads  bool
	IncludeConfig   bool
}

func (o CreateOptions) count() int {
	n := 0
	for _, b := range []bool{o.IncludeDatabase, o.IncludeUploads, o.IncludeConfig} {
		if b {
			n++
		}
	}
	return n
}

// Manager handles backup, restore and retention operations. Settings are read fresh on every call.
type Manager struct {
	store      metadata.Store
	engine     DumpEngine
	packerFor  PackerFactory
	storageFor StorageFactory
	settings   func() config.AppConfig
	lock       *pipelineLock
	now        func() time.Time
	log        zerolog.Logger
}

// Option customizes a Manager.
type Option func(*Manager)

// WithStorageFactory replaces how storage clients are built.
func WithStorageFactory(f StorageFactory) Option {
	return func(m *Manager) { m.storageFor = f }
}

// WithPackerFactory replaces how packers are built.
func WithPackerFactory(f PackerFactory) Option {
	return func(m *Manager) { m.packerFor = f }
}

// WithSettings replaces the configuration source.
func WithSettings(f func() config.AppConfig) Option {
	return func(m *Manager) { m.settings = f }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the manager's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// NewManager creates a new backup manager
func NewManager(store metadata.Store, engine DumpEngine, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		engine:   engine,
		settings: func() config.AppConfig { return config.CFG },
		lock:     newPipelineLock(),
		now:      time.Now,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.storageFor == nil {
		log := m.log
		m.storageFor = func(cfg config.StorageConfig) (ObjectStorage, error) {
			client, err := s3.NewClient(cfg, s3.WithLogger(log))
			if err != nil {
				return nil, err
			}
			return client, nil
		}
	}
	if m.packerFor == nil {
		log := m.log
		m.packerFor = func(cfg config.AppConfig) SegmentPacker {
			return archive.NewPacker(archive.PackerConfig{
				UploadsDir:  cfg.Site.UploadsDir,
				ConfigRoot:  cfg.Site.ConfigRoot,
				ConfigFiles: cfg.Site.ConfigFiles,
			}, log)
		}
	}
	return m
}

// ArtifactFilename names the uploaded artifact: backup-<YYYYMMDD-HHMMSS>-<tags>.<ext>.
func ArtifactFilename(t time.Time, opts CreateOptions) string {
	var tags []string
	if opts.IncludeDatabase {
		tags = append(tags, "db")
	}
	if opts.IncludeUploads {
		tags = append(tags, "up")
	}
	if opts.IncludeConfig {
		tags = append(tags, "cfg")
	}

	ext := "tar.gz"
	if opts.IncludeDatabase && opts.count() == 1 {
		ext = "dump"
	}
	return fmt.Sprintf("backup-%s-%s.%s", t.UTC().Format("20060102-150405"), strings.Join(tags, "-"), ext)
}

// pipelineStorage checks the remote storage settings a backup or restore needs.
func (m *Manager) pipelineStorage(cfg config.AppConfig) (ObjectStorage, error) {
	if cfg.Storage.IsLocal() {
		return nil, backuperr.NewConfigurationError("STORAGE_PROVIDER", "is local; backups need remote object storage")
	}
	if cfg.Storage.Bucket == "" {
		return nil, backuperr.NewConfigurationError("S3_BUCKET", "is not set")
	}
	return m.storageFor(cfg.Storage)
}

// remoteStorage returns a client or ErrStorageDisabled without building anything for the local provider.
func (m *Manager) remoteStorage(cfg config.AppConfig) (ObjectStorage, error) {
	if cfg.Storage.IsLocal() {
		return nil, backuperr.ErrStorageDisabled
	}
	return m.storageFor(cfg.Storage)
}

// CreateBackup runs the backup pipeline and returns the new record's ID. Precondition failures
// return before any record exists; later failures leave the record FAILED and return its ID with
// the error.
func (m *Manager) CreateBackup(ctx context.Context, opts CreateOptions) (string, error) {
	if opts.count() == 0 {
		return "", backuperr.ErrNoSegments
	}
	if opts.Type == "" {
		opts.Type = metadata.TypeManual
	}

	cfg := m.settings()
	storage, err := m.pipelineStorage(cfg)
	if err != nil {
		return "", err
	}

	if !m.lock.tryAcquire() {
		m.log.Warn().Str("lock", pipelineLockName).Msg("Backup rejected, another pipeline is running")
		return "", backuperr.ErrPipelineBusy
	}
	defer m.lock.release()

	startTime := m.now()
	format := archive.FormatRaw
	if opts.count() > 1 {
		format = archive.FormatBundle
	}
	filename := ArtifactFilename(startTime, opts)

	rec := &metadata.BackupRecord{
		ID:              uuid.NewString(),
		Filename:        filename,
		Type:            opts.Type,
		Status:          metadata.StatusRunning,
		Format:          string(format),
		StoragePath:     storagePrefix + filename,
		IncludeDatabase: opts.IncludeDatabase,
		IncludeUploads:  opts.IncludeUploads,
		IncludeConfig:   opts.IncludeConfig,
		CreatedAt:       startTime.UTC(),
	}
	if err := m.store.CreateRecord(ctx, rec); err != nil {
		return "", err
	}

	log := m.log.With().Str("backup_id", rec.ID).Str("type", string(rec.Type)).Logger()
	log.Info().Str("storage_path", rec.StoragePath).Str("format", rec.Format).Msg("Starting backup")

	// Finishing the record must not be skipped because the caller's context ended.
	finishCtx := context.WithoutCancel(ctx)

	size, err := m.runBackup(ctx, cfg, storage, rec)
	if err != nil {
		metrics.BackupCount.WithLabelValues(string(rec.Type), "error").Inc()
		if ferr := m.store.FailRecord(finishCtx, rec.ID, err.Error(), m.now().UTC()); ferr != nil {
			log.Error().Err(ferr).Msg("Failed to mark backup record as failed")
		}
		log.Error().Err(err).Msg("Backup failed")
		return rec.ID, err
	}

	if err := m.store.CompleteRecord(finishCtx, rec.ID, size, m.now().UTC()); err != nil {
		metrics.BackupCount.WithLabelValues(string(rec.Type), "error").Inc()
		return rec.ID, fmt.Errorf("backup uploaded but record could not be completed: %w", err)
	}

	duration := m.now().Sub(startTime)
	metrics.BackupCount.WithLabelValues(string(rec.Type), "success").Inc()
	metrics.BackupDuration.WithLabelValues(string(rec.Type)).Observe(duration.Seconds())
	metrics.BackupSize.WithLabelValues(string(rec.Type), rec.Format).Set(float64(size))
	metrics.LastBackupTimestamp.WithLabelValues(string(rec.Type)).Set(float64(m.now().Unix()))

	log.Info().Str("size", humanize.Bytes(uint64(size))).Dur("duration", duration).Msg("Backup completed")
	return rec.ID, nil
}

// runBackup produces, merges and uploads the artifact and returns its size.
func (m *Manager) runBackup(ctx context.Context, cfg config.AppConfig, storage ObjectStorage, rec *metadata.BackupRecord) (int64, error) {
	scratch, err := os.MkdirTemp(cfg.TempDir, "gositeguard-backup-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	var segments []archive.Segment

	if rec.IncludeDatabase {
		out := filepath.Join(scratch, archive.DatabaseFile)
		if err := m.engine.Dump(ctx, out); err != nil {
			metrics.SegmentCount.WithLabelValues(archive.SegmentDatabase, "failed").Inc()
			return 0, err
		}
		metrics.SegmentCount.WithLabelValues(archive.SegmentDatabase, "produced").Inc()
		segments = append(segments, archive.Produced(archive.SegmentDatabase, out))
	}

	packer := m.packerFor(cfg)
	pack := []struct {
		include bool
		name    string
		fn      func(context.Context, string) (archive.Segment, error)
	}{
		{rec.IncludeUploads, archive.SegmentUploads, packer.PackUploads},
		{rec.IncludeConfig, archive.SegmentConfig, packer.PackConfig},
	}
	for _, p := range pack {
		if !p.include {
			continue
		}
		seg, err := p.fn(ctx, filepath.Join(scratch, archive.MemberName(p.name)))
		if err != nil {
			metrics.SegmentCount.WithLabelValues(p.name, "failed").Inc()
			return 0, err
		}
		outcome := "skipped"
		if seg.IsProduced() {
			outcome = "produced"
		}
		metrics.SegmentCount.WithLabelValues(p.name, outcome).Inc()
		segments = append(segments, seg)
	}

	artifact := filepath.Join(scratch, rec.Filename)
	if _, err := archive.Merge(ctx, segments, artifact, archive.Format(rec.Format)); err != nil {
		return 0, err
	}

	info, err := os.Stat(artifact)
	if err != nil {
		return 0, fmt.Errorf("failed to stat backup artifact: %w", err)
	}

	if err := storage.Upload(ctx, artifact, rec.StoragePath); err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// ListBackups returns every record, newest first.
func (m *Manager) ListBackups(ctx context.Context) ([]metadata.BackupRecord, error) {
	return m.store.ListRecords(ctx)
}

// GetBackup returns one record.
func (m *Manager) GetBackup(ctx context.Context, id string) (*metadata.BackupRecord, error) {
	return m.store.GetRecord(ctx, id)
}

// DeleteBackupByID removes a record and, when storage is available, its remote object. A failed
// remote delete keeps the record so the object stays traceable.
func (m *Manager) DeleteBackupByID(ctx context.Context, id string) error {
	rec, err := m.store.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status == metadata.StatusRunning {
		return fmt.Errorf("backup %s is still running: %w", id, backuperr.ErrInvalidState)
	}

	log := m.log.With().Str("backup_id", id).Logger()

	storage, err := m.remoteStorage(m.settings())
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("Object storage unavailable, deleting record only")
	case rec.StoragePath != "":
		info, err := storage.Head(ctx, rec.StoragePath)
		if err != nil {
			return pkgerrors.Wrapf(err, "failed to check remote object for backup %s", id)
		}
		if info != nil {
			if err := storage.Delete(ctx, rec.StoragePath); err != nil {
				return pkgerrors.Wrapf(err, "failed to delete remote object for backup %s", id)
			}
		}
	}

	if err := m.store.DeleteRecord(ctx, id); err != nil {
		return err
	}
	log.Info().Str("storage_path", rec.StoragePath).Msg("Deleted backup")
	return nil
}

// GetPresignedDownloadURL signs a download URL for an arbitrary storage key.
func (m *Manager) GetPresignedDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("ttl must be positive: %w", errdefs.ErrInvalidArgument)
	}
	storage, err := m.remoteStorage(m.settings())
	if err != nil {
		return "", err
	}
	return storage.PresignedDownloadURL(ctx, key, ttl)
}

// GetBackupDownloadURL signs a download URL for a completed backup.
func (m *Manager) GetBackupDownloadURL(ctx context.Context, id string, ttl time.Duration) (string, error) {
	rec, err := m.store.GetRecord(ctx, id)
	if err != nil {
		return "", err
	}
	if rec.Status != metadata.StatusCompleted || rec.StoragePath == "" {
		return "", fmt.Errorf("backup %s is %s: %w", id, rec.Status, backuperr.ErrInvalidState)
	}
	return m.GetPresignedDownloadURL(ctx, rec.StoragePath, ttl)
}

// RecoverInterrupted fails records left RUNNING by a previous process. Call it before anything
// can start a new pipeline.
func (m *Manager) RecoverInterrupted(ctx context.Context) (int, error) {
	running, err := m.store.ListByStatus(ctx, metadata.StatusRunning)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, rec := range running {
		if err := m.store.FailRecord(ctx, rec.ID, "interrupted by process restart", m.now().UTC()); err != nil {
			m.log.Error().Err(err).Str("backup_id", rec.ID).Msg("Failed to mark interrupted backup")
			continue
		}
		recovered++
		m.log.Warn().Str("backup_id", rec.ID).Msg("Marked interrupted backup as failed")
	}
	return recovered, nil
}
