// Package metrics provides Prometheus metrics for site backup and restore operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics
var (
	// BackupCount tracks the total number of backups attempted
	BackupCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "site_backup_total",
		Help: "The total number of site backups attempted",
	}, []string{"type", "status"})

	// BackupDuration measures time taken to run the whole backup pipeline
	BackupDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "site_backup_duration_seconds",
		Help:    "Time taken to perform a site backup",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	}, []string{"type"})

	// BackupSize tracks size of the last uploaded artifact in bytes
	BackupSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "site_backup_size_bytes",
		Help: "Size of the last backup artifact in bytes",
	}, []string{"type", "format"})

	// SegmentCount tracks dumped and packed segments by outcome (produced, skipped, failed)
	SegmentCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "site_backup_segment_total",
		Help: "The total number of backup segments processed",
	}, []string{"segment", "outcome"})

	// LastBackupTimestamp records timestamp of the last successful backup
	LastBackupTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "site_backup_last_success_timestamp",
		Help: "Timestamp of the last successful backup",
	}, []string{"type"})

	// UploadCount tracks the total number of object storage uploads performed
	UploadCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "site_backup_s3_upload_total",
		Help: "The total number of object storage uploads performed",
	}, []string{"status"})

	// UploadDuration measures time taken to upload an artifact
	UploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "site_backup_s3_upload_duration_seconds",
		Help:    "Time taken to upload a backup artifact to object storage",
		Buckets: prometheus.DefBuckets,
	})

	// RestoreCount tracks per-segment restore outcomes
	RestoreCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "site_restore_segment_total",
		Help: "The total number of segment restores attempted",
	}, []string{"segment", "status"})

	// RetentionDeletes counts backups deleted by the retention sweeper
	RetentionDeletes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "site_backup_retention_deletions_total",
		Help: "The total number of backups deleted by retention policy",
	})
)
