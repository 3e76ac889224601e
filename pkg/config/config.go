// Package config provides configuration loading and management for GoSiteGuard
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/supporttools/GoSiteGuard/pkg/logging"
)

// LocalProvider disables every remote storage operation.
const LocalProvider = "local"

// DefaultConfigFiles are the site configuration files archived by the config segment.
var DefaultConfigFiles = []string{
	".env",
	".env.local",
	".env.production",
	"next.config.js",
	"next.config.mjs",
	"prisma/schema.prisma",
}

// LogConfig defines logger settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// SiteConfig describes the site being backed up
type SiteConfig struct {
	DatabaseURL string   `yaml:"databaseURL"`
	UploadsDir  string   `yaml:"uploadsDir"`
	ConfigRoot  string   `yaml:"configRoot"`
	ConfigFiles []string `yaml:"configFiles"`
}

// StorageConfig defines object storage settings
type StorageConfig struct {
	Provider           string `yaml:"provider"` // local disables remote storage
	Endpoint           string `yaml:"endpoint"`
	Bucket             string `yaml:"bucket"`
	Region             string `yaml:"region"`
	AccessKey          string `yaml:"accessKey"`
	SecretKey          string `yaml:"secretKey"`
	CustomDomain       string `yaml:"customDomain"` // Host used to rewrite presigned URLs
	Prefix             string `yaml:"prefix"`
	PathStyle          bool   `yaml:"pathStyle"`
	CustomCAPath       string `yaml:"customCAPath"`
	SkipCertValidation bool   `yaml:"skipCertValidation"`
}

// IsLocal reports whether remote storage is disabled.
func (s StorageConfig) IsLocal() bool {
	return strings.EqualFold(strings.TrimSpace(s.Provider), LocalProvider)
}

// MetadataDBConfig defines MySQL connection settings for the backup record database
type MetadataDBConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	Database        string `yaml:"database"`
	MaxOpenConns    int    `yaml:"maxOpenConns"`
	MaxIdleConns    int    `yaml:"maxIdleConns"`
	ConnMaxLifetime string `yaml:"connMaxLifetime"`
	AutoMigrate     bool   `yaml:"autoMigrate"`
}

// ScheduleConfig seeds the persisted schedule row the first time the store is opened
type ScheduleConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalHours   int  `yaml:"intervalHours"`
	RetentionDays   int  `yaml:"retentionDays"`
	IncludeDatabase bool `yaml:"includeDatabase"`
	IncludeUploads  bool `yaml:"includeUploads"`
	IncludeConfig   bool `yaml:"includeConfig"`
}

// AdminConfig defines admin API settings
type AdminConfig struct {
	Port       string        `yaml:"port"`
	PresignTTL time.Duration `yaml:"presignTTL"`
}

// AppConfig contains the complete application configuration
type AppConfig struct {
	Debug        bool             `yaml:"debug"`
	Log          LogConfig        `yaml:"log"`
	Site         SiteConfig       `yaml:"site"`
	TempDir      string           `yaml:"tempDir"`
	Storage      StorageConfig    `yaml:"storage"`
	MetadataDB   MetadataDBConfig `yaml:"metadata_database"`
	MetadataFile string           `yaml:"metadataFile"`
	Schedule     ScheduleConfig   `yaml:"schedule"`
	Admin        AdminConfig      `yaml:"admin"`
	ConfigFile   string           `yaml:"-"`
}

// CFG is the global configuration object
var CFG AppConfig

// LoadConfiguration loads the optional YAML file named by CONFIG_FILE, then applies environment overrides
func LoadConfiguration() error {
	CFG = AppConfig{}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFromFile(path); err != nil {
			return err
		}
		CFG.ConfigFile = path
	}

	loadFromEnvironment()
	setDefaults()

	if CFG.Debug {
		logging.Debug().Interface("config", redacted(CFG)).Msg("Configuration loaded")
	}
	return nil
}

func loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &CFG); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	logging.Info().Str("path", path).Msg("Loaded configuration file")
	return nil
}

// loadFromEnvironment overlays environment variables; unset variables keep the file value
func loadFromEnvironment() {
	CFG.Debug = parseEnvBool("DEBUG", CFG.Debug)
	CFG.Log.Level = getEnvOrDefault("LOG_LEVEL", CFG.Log.Level)
	CFG.Log.Format = getEnvOrDefault("LOG_FORMAT", CFG.Log.Format)

	// Site
	CFG.Site.DatabaseURL = getEnvOrDefault("DATABASE_URL", CFG.Site.DatabaseURL)
	CFG.Site.UploadsDir = getEnvOrDefault("UPLOADS_DIR", CFG.Site.UploadsDir)
	CFG.Site.ConfigRoot = getEnvOrDefault("CONFIG_ROOT", CFG.Site.ConfigRoot)
	if files := getEnvOrDefault("CONFIG_FILES", ""); files != "" {
		CFG.Site.ConfigFiles = splitList(files)
	}
	CFG.TempDir = getEnvOrDefault("BACKUP_TEMP_DIR", CFG.TempDir)

	// Storage
	CFG.Storage.Provider = getEnvOrDefault("STORAGE_PROVIDER", CFG.Storage.Provider)
	CFG.Storage.Endpoint = getEnvOrDefault("S3_ENDPOINT", CFG.Storage.Endpoint)
	CFG.Storage.Bucket = getEnvOrDefault("S3_BUCKET", CFG.Storage.Bucket)
	CFG.Storage.Region = getEnvOrDefault("S3_REGION", CFG.Storage.Region)
	CFG.Storage.AccessKey = getEnvOrDefault("S3_ACCESS_KEY", CFG.Storage.AccessKey)
	CFG.Storage.SecretKey = getEnvOrDefault("S3_SECRET_KEY", CFG.Storage.SecretKey)
	CFG.Storage.CustomDomain = getEnvOrDefault("S3_CUSTOM_DOMAIN", CFG.Storage.CustomDomain)
	CFG.Storage.Prefix = getEnvOrDefault("S3_PREFIX", CFG.Storage.Prefix)
	CFG.Storage.PathStyle = parseEnvBool("S3_PATH_STYLE", CFG.Storage.PathStyle)
	CFG.Storage.CustomCAPath = getEnvOrDefault("S3_CUSTOM_CA_PATH", CFG.Storage.CustomCAPath)
	CFG.Storage.SkipCertValidation = parseEnvBool("S3_SKIP_CERT_VALIDATION", CFG.Storage.SkipCertValidation)

	// Metadata DB settings
	CFG.MetadataDB.Enabled = parseEnvBool("METADATA_DB_ENABLED", CFG.MetadataDB.Enabled)
	CFG.MetadataDB.Host = getEnvOrDefault("METADATA_DB_HOST", CFG.MetadataDB.Host)
	CFG.MetadataDB.Port = parseEnvInt("METADATA_DB_PORT", CFG.MetadataDB.Port)
	CFG.MetadataDB.Username = getEnvOrDefault("METADATA_DB_USERNAME", CFG.MetadataDB.Username)
	CFG.MetadataDB.Password = getEnvOrDefault("METADATA_DB_PASSWORD", CFG.MetadataDB.Password)
	CFG.MetadataDB.Database = getEnvOrDefault("METADATA_DB_DATABASE", CFG.MetadataDB.Database)
	CFG.MetadataDB.MaxOpenConns = parseEnvInt("METADATA_DB_MAX_OPEN_CONNS", CFG.MetadataDB.MaxOpenConns)
	CFG.MetadataDB.MaxIdleConns = parseEnvInt("METADATA_DB_MAX_IDLE_CONNS", CFG.MetadataDB.MaxIdleConns)
	CFG.MetadataDB.ConnMaxLifetime = getEnvOrDefault("METADATA_DB_CONN_MAX_LIFETIME", CFG.MetadataDB.ConnMaxLifetime)
	CFG.MetadataDB.AutoMigrate = parseEnvBool("METADATA_DB_AUTO_MIGRATE", CFG.MetadataDB.AutoMigrate || CFG.ConfigFile == "")
	CFG.MetadataFile = getEnvOrDefault("METADATA_FILE", CFG.MetadataFile)

	// Schedule seed
	CFG.Schedule.Enabled = parseEnvBool("BACKUP_SCHEDULE_ENABLED", CFG.Schedule.Enabled)
	CFG.Schedule.IntervalHours = parseEnvInt("BACKUP_INTERVAL_HOURS", CFG.Schedule.IntervalHours)
	CFG.Schedule.RetentionDays = parseEnvInt("BACKUP_RETENTION_DAYS", CFG.Schedule.RetentionDays)
	CFG.Schedule.IncludeDatabase = parseEnvBool("BACKUP_INCLUDE_DATABASE", CFG.Schedule.IncludeDatabase || CFG.ConfigFile == "")
	CFG.Schedule.IncludeUploads = parseEnvBool("BACKUP_INCLUDE_UPLOADS", CFG.Schedule.IncludeUploads)
	CFG.Schedule.IncludeConfig = parseEnvBool("BACKUP_INCLUDE_CONFIG", CFG.Schedule.IncludeConfig)

	// Admin API
	CFG.Admin.Port = getEnvOrDefault("ADMIN_PORT", CFG.Admin.Port)
	if ttl := getEnvOrDefault("PRESIGN_TTL", ""); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			logging.Warn().Err(err).Str("value", ttl).Msg("Invalid PRESIGN_TTL, keeping previous value")
		} else {
			CFG.Admin.PresignTTL = d
		}
	}
}

// setDefaults ensures all config fields have reasonable default values
func setDefaults() {
	if CFG.Log.Level == "" {
		CFG.Log.Level = "info"
	}
	if CFG.Log.Format == "" {
		CFG.Log.Format = "json"
	}
	if CFG.Debug {
		CFG.Log.Level = "debug"
	}

	if CFG.Site.UploadsDir == "" {
		CFG.Site.UploadsDir = "public/uploads"
	}
	if CFG.Site.ConfigRoot == "" {
		CFG.Site.ConfigRoot = "."
	}
	if len(CFG.Site.ConfigFiles) == 0 {
		CFG.Site.ConfigFiles = append([]string(nil), DefaultConfigFiles...)
	}
	if CFG.TempDir == "" {
		CFG.TempDir = os.TempDir()
	}

	if CFG.Storage.Provider == "" {
		CFG.Storage.Provider = LocalProvider
	}
	if CFG.Storage.Region == "" {
		CFG.Storage.Region = "us-east-1"
	}

	if CFG.MetadataDB.Host == "" {
		CFG.MetadataDB.Host = "localhost"
	}
	if CFG.MetadataDB.Port == 0 {
		CFG.MetadataDB.Port = 3306
	}
	if CFG.MetadataDB.Username == "" {
		CFG.MetadataDB.Username = "gositeguard"
	}
	if CFG.MetadataDB.Database == "" {
		CFG.MetadataDB.Database = "gositeguard"
	}
	if CFG.MetadataDB.MaxOpenConns == 0 {
		CFG.MetadataDB.MaxOpenConns = 10
	}
	if CFG.MetadataDB.MaxIdleConns == 0 {
		CFG.MetadataDB.MaxIdleConns = 5
	}
	if CFG.MetadataDB.ConnMaxLifetime == "" {
		CFG.MetadataDB.ConnMaxLifetime = "5m"
	}
	if CFG.MetadataFile == "" {
		CFG.MetadataFile = "backup-records.json"
	}

	if CFG.Schedule.IntervalHours == 0 {
		CFG.Schedule.IntervalHours = 24
	}
	if CFG.Schedule.RetentionDays == 0 {
		CFG.Schedule.RetentionDays = 30
	}

	if CFG.Admin.Port == "" {
		CFG.Admin.Port = "8080"
	}
	if CFG.Admin.PresignTTL == 0 {
		CFG.Admin.PresignTTL = time.Hour
	}
}

// DatabaseURL returns the site database URL, preferring the live DATABASE_URL environment variable
func DatabaseURL() string {
	if v, ok := os.LookupEnv("DATABASE_URL"); ok {
		return v
	}
	return CFG.Site.DatabaseURL
}

// ValidateConfig reports the first invalid setting
func ValidateConfig() error {
	switch strings.ToLower(CFG.Log.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("log format must be json or console, got %q", CFG.Log.Format)
	}

	if CFG.Schedule.IntervalHours < 1 {
		return fmt.Errorf("backup interval must be at least 1 hour, got %d", CFG.Schedule.IntervalHours)
	}
	if CFG.Schedule.RetentionDays < 0 {
		return fmt.Errorf("backup retention days cannot be negative, got %d", CFG.Schedule.RetentionDays)
	}
	if CFG.Admin.PresignTTL <= 0 {
		return fmt.Errorf("presign TTL must be positive, got %s", CFG.Admin.PresignTTL)
	}
	if _, err := strconv.Atoi(CFG.Admin.Port); err != nil {
		return fmt.Errorf("admin port must be numeric, got %q", CFG.Admin.Port)
	}

	if CFG.MetadataDB.Enabled {
		if CFG.MetadataDB.Port <= 0 || CFG.MetadataDB.Port > 65535 {
			return fmt.Errorf("metadata database port out of range: %d", CFG.MetadataDB.Port)
		}
		if _, err := time.ParseDuration(CFG.MetadataDB.ConnMaxLifetime); err != nil {
			return fmt.Errorf("invalid metadata database connMaxLifetime %q: %w", CFG.MetadataDB.ConnMaxLifetime, err)
		}
	}

	if CFG.Storage.CustomCAPath != "" {
		if _, err := os.Stat(CFG.Storage.CustomCAPath); err != nil {
			return fmt.Errorf("custom CA certificate not readable: %w", err)
		}
	}

	return nil
}

// DisplayConfiguration outputs the current configuration while masking sensitive information
func DisplayConfiguration() {
	c := redacted(CFG)
	logging.Info().
		Bool("debug", c.Debug).
		Str("config_file", c.ConfigFile).
		Str("database_url", c.Site.DatabaseURL).
		Str("uploads_dir", c.Site.UploadsDir).
		Str("config_root", c.Site.ConfigRoot).
		Strs("config_files", c.Site.ConfigFiles).
		Str("temp_dir", c.TempDir).
		Msg("Site configuration")

	logging.Info().
		Str("provider", c.Storage.Provider).
		Str("endpoint", c.Storage.Endpoint).
		Str("bucket", c.Storage.Bucket).
		Str("region", c.Storage.Region).
		Str("prefix", c.Storage.Prefix).
		Str("access_key", c.Storage.AccessKey).
		Str("secret_key", c.Storage.SecretKey).
		Str("custom_domain", c.Storage.CustomDomain).
		Bool("path_style", c.Storage.PathStyle).
		Msg("Storage configuration")

	if c.MetadataDB.Enabled {
		logging.Info().
			Str("host", c.MetadataDB.Host).
			Int("port", c.MetadataDB.Port).
			Str("username", c.MetadataDB.Username).
			Str("password", c.MetadataDB.Password).
			Str("database", c.MetadataDB.Database).
			Bool("auto_migrate", c.MetadataDB.AutoMigrate).
			Msg("Metadata database configuration")
	} else {
		logging.Info().Str("path", c.MetadataFile).Msg("Metadata file configuration")
	}

	logging.Info().
		Bool("enabled", c.Schedule.Enabled).
		Int("interval_hours", c.Schedule.IntervalHours).
		Int("retention_days", c.Schedule.RetentionDays).
		Msg("Schedule defaults")
}

func redacted(c AppConfig) AppConfig {
	c.Storage.AccessKey = maskSensitiveInfo(c.Storage.AccessKey)
	c.Storage.SecretKey = maskSensitiveInfo(c.Storage.SecretKey)
	c.MetadataDB.Password = maskSensitiveInfo(c.MetadataDB.Password)
	c.Site.DatabaseURL = maskURLPassword(c.Site.DatabaseURL)
	c.Site.ConfigFiles = append([]string(nil), c.Site.ConfigFiles...)
	return c
}

// maskSensitiveInfo masks sensitive information for logging
func maskSensitiveInfo(info string) string {
	if info == "" {
		return "[not set]"
	}
	if len(info) <= 4 {
		return "****"
	}
	return info[:2] + "****" + info[len(info)-2:]
}

func maskURLPassword(raw string) string {
	at := strings.LastIndex(raw, "@")
	scheme := strings.Index(raw, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return raw
	}
	creds := raw[scheme+3 : at]
	if colon := strings.Index(creds, ":"); colon >= 0 {
		return raw[:scheme+3] + creds[:colon] + ":****" + raw[at:]
	}
	return raw
}

// Helper functions for environment variables

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func parseEnvBool(key string, defaultValue bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}

	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "on", "enabled":
		return true
	case "0", "f", "false", "no", "off", "disabled":
		return false
	default:
		logging.Warn().Str("key", key).Str("value", value).Bool("default", defaultValue).
			Msg("Could not parse boolean environment variable, using default")
		return defaultValue
	}
}

func parseEnvInt(key string, defaultValue int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		logging.Warn().Str("key", key).Str("value", value).Int("default", defaultValue).
			Msg("Could not parse integer environment variable, using default")
		return defaultValue
	}
	return n
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
