package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("SQLITE_PATH", "")
	t.Setenv("EODHD_API_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, filepath.IsAbs(cfg.DataDir))
	assert.Equal(t, filepath.Join(cfg.DataDir, "sqlite", "marketgps.db"), cfg.SQLitePath)
	assert.Equal(t, "https://eodhd.com/api", cfg.EODHDBaseURL)
	assert.Equal(t, "US", cfg.DefaultExchange)
	assert.Equal(t, ProviderAuto, cfg.Provider)
	assert.Equal(t, 50, cfg.RotationBatchSize)
	assert.Equal(t, 15, cfg.ScheduleRotationMinutes)
	assert.Equal(t, 6, cfg.ScheduleGatingHours)
	assert.Equal(t, 24, cfg.SchedulePoolHours)
	assert.Equal(t, 7, cfg.ScheduleUniverseDays)
	assert.Equal(t, BillingLive, cfg.BillingMode)
	assert.Equal(t, 3, cfg.AdhocDailyFree)
	assert.Equal(t, 200, cfg.AdhocDailyPaid)
	assert.False(t, cfg.BackupEnabled())
}

func TestLoad_LegacyRotationPeriod(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("ROTATION_PERIOD_MINUTES", "30")
	t.Setenv("SCHEDULE_ROTATION_MINUTES", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.ScheduleRotationMinutes)

	t.Setenv("SCHEDULE_ROTATION_MINUTES", "10")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.ScheduleRotationMinutes)
}

func TestLoad_InvalidBatchSize(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("ROTATION_BATCH_SIZE", "-5")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_UnknownProvider(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("ROTATION_BATCH_SIZE", "50")
	t.Setenv("PROVIDER", "bloomberg")

	_, err := Load()
	assert.Error(t, err)
}

func TestEnsureDirs(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("PROVIDER", "auto")
	t.Setenv("ROTATION_BATCH_SIZE", "50")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.EnsureDirs())

	assert.DirExists(t, filepath.Join(dir, "sqlite"))
	assert.DirExists(t, filepath.Join(dir, "parquet", "us_eu", "bars_daily"))
	assert.DirExists(t, filepath.Join(dir, "parquet", "africa", "bars_daily"))
}

func TestBillingModeFallback(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("BILLING_MODE", "weird")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BillingLive, cfg.BillingMode)
}
