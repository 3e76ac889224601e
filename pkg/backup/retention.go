package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/containerd/errdefs"

	"github.com/supporttools/GoSiteGuard/pkg/metrics"
)

// CleanOldBackups deletes COMPLETED backups created more than retentionDays ago and returns how
// many records were removed. Remote deletion is best effort; a record is only counted once its
// row is gone.
func (m *Manager) CleanOldBackups(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays < 0 {
		return 0, fmt.Errorf("retention days must not be negative, got %d: %w", retentionDays, errdefs.ErrInvalidArgument)
	}

	cutoff := m.now().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	expired, err := m.store.ListExpired(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		m.log.Debug().Int("retention_days", retentionDays).Msg("No expired backups")
		return 0, nil
	}

	storage, storageErr := m.remoteStorage(m.settings())
	if storageErr != nil {
		m.log.Warn().Err(storageErr).Msg("Object storage unavailable, expired objects will not be removed")
	}

	deleted := 0
	for _, rec := range expired {
		log := m.log.With().Str("backup_id", rec.ID).Str("storage_path", rec.StoragePath).Logger()

		if storageErr == nil && rec.StoragePath != "" {
			if err := storage.Delete(ctx, rec.StoragePath); err != nil {
				log.Warn().Err(err).Msg("Failed to delete expired backup object")
			}
		}

		if err := m.store.DeleteRecord(ctx, rec.ID); err != nil {
			log.Error().Err(err).Msg("Failed to delete expired backup record")
			continue
		}
		deleted++
		metrics.RetentionDeletes.Inc()
		log.Info().Time("created_at", rec.CreatedAt).Msg("Deleted expired backup")
	}

	m.log.Info().Int("deleted", deleted).Int("expired", len(expired)).Int("retention_days", retentionDays).Msg("Retention sweep finished")
	return deleted, nil
}
