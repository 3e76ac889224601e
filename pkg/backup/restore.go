package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/supporttools/GoSiteGuard/pkg/archive"
	"github.com/supporttools/GoSiteGuard/pkg/backuperr"
	"github.com/supporttools/GoSiteGuard/pkg/metadata"
	"github.com/supporttools/GoSiteGuard/pkg/metrics"
)

// RestoreResult reports which segments were restored. A segment that failed is false and has a
// message in Errors.
type RestoreResult struct {
	Database bool     `json:"database"`
	Uploads  bool     `json:"uploads"`
	Config   bool     `json:"config"`
	Errors   []string `json:"errors"`
}

func (r *RestoreResult) mark(segment string) {
	switch segment {
	case archive.SegmentDatabase:
		r.Database = true
	case archive.SegmentUploads:
		r.Uploads = true
	case archive.SegmentConfig:
		r.Config = true
	}
}

// isBundle decides how a stored artifact is laid out. Records written before the format was
// persisted fall back to the number of included segments.
func isBundle(rec *metadata.BackupRecord) bool {
	switch archive.Format(rec.Format) {
	case archive.FormatBundle:
		return true
	case archive.FormatRaw:
		return false
	}
	return rec.IncludeCount() > 1
}

func included(rec *metadata.BackupRecord, segment string) bool {
	switch segment {
	case archive.SegmentDatabase:
		return rec.IncludeDatabase
	case archive.SegmentUploads:
		return rec.IncludeUploads
	case archive.SegmentConfig:
		return rec.IncludeConfig
	}
	return false
}

// RestoreBackupByID downloads a completed backup and restores each included segment in order.
// Segment failures are collected in the result; only download and extraction failures fail the
// call. Restores overwrite the live database, uploads and config files.
func (m *Manager) RestoreBackupByID(ctx context.Context, id string) (*RestoreResult, error) {
	rec, err := m.store.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != metadata.StatusCompleted {
		return nil, fmt.Errorf("backup %s is %s: %w", id, rec.Status, backuperr.ErrInvalidState)
	}
	if rec.StoragePath == "" {
		return nil, fmt.Errorf("backup %s has no storage path: %w", id, backuperr.ErrInvalidState)
	}

	cfg := m.settings()
	if cfg.Storage.IsLocal() {
		return nil, backuperr.NewConfigurationError("STORAGE_PROVIDER", "is local; restores need remote object storage")
	}
	storage, err := m.storageFor(cfg.Storage)
	if err != nil {
		return nil, err
	}

	if !m.lock.tryAcquire() {
		m.log.Warn().Str("lock", pipelineLockName).Msg("Restore rejected, another pipeline is running")
		return nil, backuperr.ErrPipelineBusy
	}
	defer m.lock.release()

	log := m.log.With().Str("backup_id", id).Logger()
	log.Warn().Str("storage_path", rec.StoragePath).Msg("Starting restore, live data will be overwritten")

	scratch, err := os.MkdirTemp(cfg.TempDir, "gositeguard-restore-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	artifact := filepath.Join(scratch, filepath.Base(rec.StoragePath))
	if err := storage.Download(ctx, rec.StoragePath, artifact); err != nil {
		return nil, err
	}

	bundled := isBundle(rec)
	membersDir := filepath.Join(scratch, "members")
	if bundled {
		if err := archive.Extract(ctx, artifact, membersDir); err != nil {
			return nil, fmt.Errorf("failed to extract backup bundle: %w", err)
		}
	}

	packer := m.packerFor(cfg)
	restorers := map[string]func(context.Context, string) error{
		archive.SegmentDatabase: m.engine.Restore,
		archive.SegmentUploads:  packer.UnpackUploads,
		archive.SegmentConfig:   packer.UnpackConfig,
	}

	result := &RestoreResult{Errors: []string{}}
	for _, segment := range archive.Segments {
		if !included(rec, segment) {
			continue
		}

		path := artifact
		if bundled {
			path = filepath.Join(membersDir, archive.MemberName(segment))
		}

		err := restoreSegment(ctx, path, restorers[segment])
		if err != nil {
			metrics.RestoreCount.WithLabelValues(segment, "error").Inc()
			result.Errors = append(result.Errors, fmt.Sprintf("%s restore failed: %s", segment, err.Error()))
			log.Error().Err(err).Str("segment", segment).Msg("Segment restore failed")
			continue
		}

		metrics.RestoreCount.WithLabelValues(segment, "success").Inc()
		result.mark(segment)
		log.Info().Str("segment", segment).Msg("Segment restored")
	}

	log.Info().
		Bool("database", result.Database).
		Bool("uploads", result.Uploads).
		Bool("config", result.Config).
		Int("errors", len(result.Errors)).
		Msg("Restore finished")
	return result, nil
}

func restoreSegment(ctx context.Context, path string, restore func(context.Context, string) error) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("segment file %s not found in backup", filepath.Base(path))
	}
	return restore(ctx, path)
}
