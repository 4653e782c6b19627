// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// ProviderMode selects which market-data adapter serves a request.
const (
	ProviderAuto  = "auto"
	ProviderEODHD = "eodhd"
	ProviderYFin  = "yfin"
)

// Billing modes. "off" disables user quota enforcement for self-hosted use.
const (
	BillingLive = "live"
	BillingOff  = "off"
)

// Config holds application configuration
type Config struct {
	DataDir    string // Base directory for all persisted state, always absolute
	SQLitePath string // Relational store file, defaults under DataDir

	// Provider adapter
	EODHDAPIKey     string
	EODHDBaseURL    string
	DefaultExchange string
	Provider        string // auto, eodhd, yfin

	// Rotation and scheduling
	RotationBatchSize       int
	ScheduleRotationMinutes int
	ScheduleGatingHours     int
	SchedulePoolHours       int
	ScheduleUniverseDays    int
	WorkerPollSeconds       int

	// Universe tier caps (assets activated per scope)
	USEUTier1Limit   int
	USEUTier2Limit   int
	AfricaTier1Limit int
	AfricaTier2Limit int

	// Exchanges listed per scope during a universe rebuild
	USEUExchanges   []string
	AfricaExchanges []string

	// Ad-hoc quota
	BillingMode    string
	AdhocDailyFree int
	AdhocDailyPaid int

	// Snapshot backups (optional; disabled when the bucket is empty)
	BackupS3Bucket    string
	BackupS3Endpoint  string
	BackupS3AccessKey string
	BackupS3SecretKey string

	LogLevel  string
	LogPretty bool
}

// Load reads configuration from the environment, with an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	sqlitePath := getEnv("SQLITE_PATH", "")
	if sqlitePath == "" {
		sqlitePath = filepath.Join(absDataDir, "sqlite", "marketgps.db")
	}

	// SCHEDULE_ROTATION_MINUTES supersedes the legacy ROTATION_PERIOD_MINUTES;
	// both remain recognized.
	rotationMinutes := getEnvAsInt("ROTATION_PERIOD_MINUTES", 15)
	rotationMinutes = getEnvAsInt("SCHEDULE_ROTATION_MINUTES", rotationMinutes)

	cfg := &Config{
		DataDir:    absDataDir,
		SQLitePath: sqlitePath,

		EODHDAPIKey:     getEnv("EODHD_API_KEY", ""),
		EODHDBaseURL:    getEnv("EODHD_BASE_URL", "https://eodhd.com/api"),
		DefaultExchange: strings.ToUpper(getEnv("DEFAULT_EXCHANGE", "US")),
		Provider:        strings.ToLower(getEnv("PROVIDER", ProviderAuto)),

		RotationBatchSize:       getEnvAsInt("ROTATION_BATCH_SIZE", 50),
		ScheduleRotationMinutes: rotationMinutes,
		ScheduleGatingHours:     getEnvAsInt("SCHEDULE_GATING_HOURS", 6),
		SchedulePoolHours:       getEnvAsInt("SCHEDULE_POOL_HOURS", 24),
		ScheduleUniverseDays:    getEnvAsInt("SCHEDULE_UNIVERSE_DAYS", 7),
		WorkerPollSeconds:       getEnvAsInt("WORKER_POLL_SECONDS", 5),

		USEUTier1Limit:   2000,
		USEUTier2Limit:   1000,
		AfricaTier1Limit: 500,
		AfricaTier2Limit: getEnvAsInt("AFRICA_TIER2_LIMIT", 500),

		USEUExchanges:   getEnvAsSlice("USEU_EXCHANGES", []string{"US", "LSE", "XETRA", "PA", "AS", "SW", "MI"}),
		AfricaExchanges: getEnvAsSlice("AFRICA_EXCHANGES", []string{"JSE", "NG", "NSE", "EGX", "CASA", "BRVM", "GSE", "USE", "DSE"}),

		BillingMode:    strings.ToLower(getEnv("BILLING_MODE", BillingLive)),
		AdhocDailyFree: getEnvAsInt("ADHOC_DAILY_FREE", 3),
		AdhocDailyPaid: getEnvAsInt("ADHOC_DAILY_PAID", 200),

		BackupS3Bucket:    getEnv("BACKUP_S3_BUCKET", ""),
		BackupS3Endpoint:  getEnv("BACKUP_S3_ENDPOINT", ""),
		BackupS3AccessKey: getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
		BackupS3SecretKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.RotationBatchSize <= 0 {
		return fmt.Errorf("ROTATION_BATCH_SIZE must be positive, got %d", c.RotationBatchSize)
	}
	if c.ScheduleRotationMinutes <= 0 || c.ScheduleGatingHours <= 0 ||
		c.SchedulePoolHours <= 0 || c.ScheduleUniverseDays <= 0 {
		return fmt.Errorf("schedule cadences must be positive")
	}
	switch c.Provider {
	case ProviderAuto, ProviderEODHD, ProviderYFin:
	default:
		return fmt.Errorf("unknown PROVIDER %q", c.Provider)
	}
	if c.BillingMode != BillingLive && c.BillingMode != BillingOff {
		c.BillingMode = BillingLive
	}
	return nil
}

// EnsureDirs creates the sqlite and bar-store directories.
func (c *Config) EnsureDirs() error {
	dirs := []string{
		filepath.Dir(c.SQLitePath),
		c.BarsDir("us_eu"),
		c.BarsDir("africa"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", d, err)
		}
	}
	return nil
}

// BarsDir returns the bar-file directory for a scope directory segment.
func (c *Config) BarsDir(scopeDir string) string {
	return filepath.Join(c.DataDir, "parquet", scopeDir, "bars_daily")
}

// BackupEnabled reports whether snapshot backups are configured.
func (c *Config) BackupEnabled() bool {
	return c.BackupS3Bucket != ""
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
