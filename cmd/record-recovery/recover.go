package main

import (
	"context"
	"fmt"
	"os"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/google/uuid"

	"github.com/supporttools/GoSiteGuard/pkg/archive"
	"github.com/supporttools/GoSiteGuard/pkg/config"
	"github.com/supporttools/GoSiteGuard/pkg/logging"
	"github.com/supporttools/GoSiteGuard/pkg/metadata"
)

// Format: backup-{YYYYMMDD-HHMMSS}-{tags}.{dump|tar.gz}, tags in db, up, cfg order.
var artifactPattern = regexp.MustCompile(`^backup-(\d{8}-\d{6})-(db(?:-up)?(?:-cfg)?|up(?:-cfg)?|cfg)\.(dump|tar\.gz)$`)

const backupsDir = "backups"

// objectLister is the part of the S3 API the scan needs.
type objectLister interface {
	ListObjectsV2PagesWithContext(ctx aws.Context, input *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool, opts ...request.Option) error
}

// artifact is a backup object found in storage.
type artifact struct {
	StoragePath     string
	Filename        string
	Size            int64
	LastModified    time.Time
	CreatedAt       time.Time
	IncludeDatabase bool
	IncludeUploads  bool
	IncludeConfig   bool
}

func (a artifact) format() archive.Format {
	n := 0
	for _, b := range []bool{a.IncludeDatabase, a.IncludeUploads, a.IncludeConfig} {
		if b {
			n++
		}
	}
	if n > 1 {
		return archive.FormatBundle
	}
	return archive.FormatRaw
}

// parseArtifactName reads the segments and creation time out of an artifact filename.
func parseArtifactName(name string) (artifact, bool) {
	m := artifactPattern.FindStringSubmatch(name)
	if m == nil {
		return artifact{}, false
	}

	created, err := time.ParseInLocation("20060102-150405", m[1], time.UTC)
	if err != nil {
		return artifact{}, false
	}

	tags := strings.Split(m[2], "-")
	a := artifact{Filename: name, CreatedAt: created}
	for _, tag := range tags {
		switch tag {
		case "db":
			a.IncludeDatabase = true
		case "up":
			a.IncludeUploads = true
		case "cfg":
			a.IncludeConfig = true
		}
	}

	// Only a database-only backup is stored as a raw dump.
	rawDump := m[2] == "db"
	if (m[3] == "dump") != rawDump {
		return artifact{}, false
	}
	return a, true
}

func newS3Lister(cfg config.StorageConfig) (objectLister, error) {
	if cfg.IsLocal() {
		return nil, fmt.Errorf("storage provider is local, nothing to recover from")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is not set")
	}

	awsCfg := &aws.Config{
		Region:           aws.String(cfg.Region),
		Credentials:      credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
		S3ForcePathStyle: aws.Bool(cfg.PathStyle),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}

	opts := session.Options{Config: *awsCfg}
	if cfg.CustomCAPath != "" {
		bundle, err := os.Open(cfg.CustomCAPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open CA bundle: %w", err)
		}
		defer bundle.Close()
		opts.CustomCABundle = bundle
	}

	sess, err := session.NewSessionWithOptions(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 session: %w", err)
	}
	return s3.New(sess), nil
}

// scanArtifacts lists the backups directory and returns every object that follows the naming
// convention. Storage paths are relative to the configured prefix, as records store them.
func scanArtifacts(ctx context.Context, lister objectLister, cfg config.StorageConfig) ([]artifact, error) {
	prefix := strings.Trim(cfg.Prefix, "/")
	listPrefix := path.Join(prefix, backupsDir) + "/"

	var found []artifact
	err := lister.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(cfg.Bucket),
		Prefix: aws.String(listPrefix),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			key := aws.StringValue(obj.Key)
			a, ok := parseArtifactName(path.Base(key))
			if !ok {
				logging.Debug().Str("key", key).Msg("Skipping object with non-standard name")
				continue
			}

			a.StoragePath = strings.TrimPrefix(key, prefix+"/")
			if prefix == "" {
				a.StoragePath = key
			}
			a.Size = aws.Int64Value(obj.Size)
			a.LastModified = aws.TimeValue(obj.LastModified)
			found = append(found, a)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list backups in bucket %s: %w", cfg.Bucket, err)
	}
	return found, nil
}

type recoverySummary struct {
	Recovered      int
	Existing       int
	RecoveredBytes int64
}

// recoverRecords creates a COMPLETED record for every artifact whose storage path has no record.
func recoverRecords(ctx context.Context, store metadata.Store, found []artifact, dryRun bool) (recoverySummary, error) {
	var summary recoverySummary

	existing, err := store.ListRecords(ctx)
	if err != nil {
		return summary, err
	}
	known := make(map[string]bool, len(existing))
	for _, rec := range existing {
		known[rec.StoragePath] = true
	}

	for _, a := range found {
		if known[a.StoragePath] {
			summary.Existing++
			logging.Debug().Str("storage_path", a.StoragePath).Msg("Record already exists")
			continue
		}

		completed := a.LastModified
		if completed.IsZero() {
			completed = a.CreatedAt
		}
		rec := &metadata.BackupRecord{
			ID:              uuid.NewString(),
			Filename:        a.Filename,
			Type:            metadata.TypeManual,
			Status:          metadata.StatusCompleted,
			Format:          string(a.format()),
			StoragePath:     a.StoragePath,
			Size:            a.Size,
			IncludeDatabase: a.IncludeDatabase,
			IncludeUploads:  a.IncludeUploads,
			IncludeConfig:   a.IncludeConfig,
			CreatedAt:       a.CreatedAt,
			CompletedAt:     &completed,
		}

		if !dryRun {
			if err := store.CreateRecord(ctx, rec); err != nil {
				return summary, fmt.Errorf("failed to create record for %s: %w", a.StoragePath, err)
			}
		}
		known[a.StoragePath] = true
		summary.Recovered++
		summary.RecoveredBytes += a.Size
		logging.Info().Str("storage_path", a.StoragePath).Bool("dry_run", dryRun).Msg("Recovered backup record")
	}
	return summary, nil
}
