package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigurationDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	require.NoError(t, LoadConfiguration())

	assert.Equal(t, "info", CFG.Log.Level)
	assert.Equal(t, "json", CFG.Log.Format)
	assert.Equal(t, LocalProvider, CFG.Storage.Provider)
	assert.True(t, CFG.Storage.IsLocal())
	assert.Equal(t, DefaultConfigFiles, CFG.Site.ConfigFiles)
	assert.Equal(t, 24, CFG.Schedule.IntervalHours)
	assert.Equal(t, 30, CFG.Schedule.RetentionDays)
	assert.True(t, CFG.Schedule.IncludeDatabase)
	assert.False(t, CFG.Schedule.IncludeUploads)
	assert.Equal(t, time.Hour, CFG.Admin.PresignTTL)
	assert.Equal(t, 3306, CFG.MetadataDB.Port)
	assert.NoError(t, ValidateConfig())
}

func TestLoadConfigurationEnvironment(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("STORAGE_PROVIDER", "s3")
	t.Setenv("S3_BUCKET", "site-backups")
	t.Setenv("S3_PATH_STYLE", "yes")
	t.Setenv("CONFIG_FILES", ".env, prisma/schema.prisma ,")
	t.Setenv("BACKUP_INTERVAL_HOURS", "6")
	t.Setenv("BACKUP_INCLUDE_UPLOADS", "on")
	t.Setenv("PRESIGN_TTL", "15m")
	t.Setenv("METADATA_DB_PORT", "not-a-number")

	require.NoError(t, LoadConfiguration())

	assert.Equal(t, "s3", CFG.Storage.Provider)
	assert.False(t, CFG.Storage.IsLocal())
	assert.Equal(t, "site-backups", CFG.Storage.Bucket)
	assert.True(t, CFG.Storage.PathStyle)
	assert.Equal(t, []string{".env", "prisma/schema.prisma"}, CFG.Site.ConfigFiles)
	assert.Equal(t, 6, CFG.Schedule.IntervalHours)
	assert.True(t, CFG.Schedule.IncludeUploads)
	assert.Equal(t, 15*time.Minute, CFG.Admin.PresignTTL)
	assert.Equal(t, 3306, CFG.MetadataDB.Port, "unparseable port falls back to the default")
}

func TestLoadConfigurationFileThenEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
site:
  uploadsDir: /srv/site/public/uploads
storage:
  provider: s3
  bucket: from-file
  prefix: prod
schedule:
  enabled: true
  intervalHours: 12
  retentionDays: 7
  includeDatabase: true
  includeConfig: true
admin:
  presignTTL: 30m
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("S3_BUCKET", "from-env")

	require.NoError(t, LoadConfiguration())

	assert.Equal(t, path, CFG.ConfigFile)
	assert.Equal(t, "/srv/site/public/uploads", CFG.Site.UploadsDir)
	assert.Equal(t, "from-env", CFG.Storage.Bucket)
	assert.Equal(t, "prod", CFG.Storage.Prefix)
	assert.True(t, CFG.Schedule.Enabled)
	assert.Equal(t, 12, CFG.Schedule.IntervalHours)
	assert.Equal(t, 7, CFG.Schedule.RetentionDays)
	assert.True(t, CFG.Schedule.IncludeConfig)
	assert.False(t, CFG.Schedule.IncludeUploads)
	assert.Equal(t, 30*time.Minute, CFG.Admin.PresignTTL)
}

func TestLoadConfigurationBadFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, LoadConfiguration())
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *AppConfig)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *AppConfig) {}},
		{name: "bad log format", mutate: func(c *AppConfig) { c.Log.Format = "xml" }, wantErr: true},
		{name: "zero interval", mutate: func(c *AppConfig) { c.Schedule.IntervalHours = 0 }, wantErr: true},
		{name: "negative retention", mutate: func(c *AppConfig) { c.Schedule.RetentionDays = -1 }, wantErr: true},
		{name: "non numeric port", mutate: func(c *AppConfig) { c.Admin.Port = "http" }, wantErr: true},
		{name: "bad metadata lifetime", mutate: func(c *AppConfig) {
			c.MetadataDB.Enabled = true
			c.MetadataDB.ConnMaxLifetime = "soon"
		}, wantErr: true},
		{name: "missing CA file", mutate: func(c *AppConfig) { c.Storage.CustomCAPath = "/nonexistent/ca.pem" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			CFG = AppConfig{}
			setDefaults()
			tt.mutate(&CFG)

			err := ValidateConfig()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseURLPrefersEnvironment(t *testing.T) {
	CFG.Site.DatabaseURL = "postgres://file@db/site"
	t.Setenv("DATABASE_URL", "postgres://env@db/site")
	assert.Equal(t, "postgres://env@db/site", DatabaseURL())

	require.NoError(t, os.Unsetenv("DATABASE_URL"))
	assert.Equal(t, "postgres://file@db/site", DatabaseURL())
}

func TestMasking(t *testing.T) {
	assert.Equal(t, "[not set]", maskSensitiveInfo(""))
	assert.Equal(t, "****", maskSensitiveInfo("abcd"))
	assert.Equal(t, "ab****yz", maskSensitiveInfo("abcdefwxyz"))
	assert.Equal(t, "postgres://user:****@db:5432/site", maskURLPassword("postgres://user:s3cret@db:5432/site"))
	assert.Equal(t, "postgres://db/site", maskURLPassword("postgres://db/site"))
}
