package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidateInIngestMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "ingest" // no venue keys needed
	assert.NoError(t, cfg.Validate())
}

func TestLoad_TOMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "carrybot.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "ingest"
log_level = "debug"

[detector]
min_spread_apr = 25.0
max_staleness = "45m"

[jobs]
ingest_interval = "30s"
instruments = ["ETH-PERP", "BTC-PERP"]
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ingest", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 25.0, cfg.Detector.MinSpreadAPR)
	assert.Equal(t, 45*time.Minute, cfg.Detector.MaxStaleness.Duration)
	assert.Equal(t, 30*time.Second, cfg.Jobs.IngestInterval.Duration)
	assert.Equal(t, []string{"ETH-PERP", "BTC-PERP"}, cfg.Jobs.Instruments)

	// Untouched sections keep their defaults.
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.True(t, cfg.Postgres.RunMigrations)
}

func TestLoad_EnvOverridesWin(t *testing.T) {
	t.Setenv("CARRYBOT_MODE", "monitor")
	t.Setenv("CARRYBOT_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("CARRYBOT_POSTGRES_PORT", "5433")
	t.Setenv("CARRYBOT_DETECTOR_MIN_SPREAD_APR", "33.5")
	t.Setenv("CARRYBOT_S3_ENABLED", "true")
	t.Setenv("CARRYBOT_JOBS_MONITOR_INTERVAL", "90s")
	t.Setenv("CARRYBOT_ENGINE_OPENING_GRACE", "20m")
	t.Setenv("CARRYBOT_DETECTOR_ALLOWED_VENUES", "vest, bitmara")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 5433, cfg.Postgres.Port)
	assert.Equal(t, 33.5, cfg.Detector.MinSpreadAPR)
	assert.True(t, cfg.S3.Enabled)
	assert.Equal(t, 90*time.Second, cfg.Jobs.MonitorInterval.Duration)
	assert.Equal(t, 20*time.Minute, cfg.Engine.OpeningGrace.Duration)
	assert.Equal(t, []string{"vest", "bitmara"}, cfg.Detector.AllowedVenues)
}

func TestLoad_MissingFileErrors(t *testing.T) {
	_, err := Load("/nonexistent/carrybot.toml")
	assert.Error(t, err)
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.LogLevel = "loud"
	cfg.Redis.Addr = ""
	cfg.Detector.MaxPriceDeviation = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "unknown log_level")
	assert.Contains(t, err.Error(), "redis: addr")
	assert.Contains(t, err.Error(), "max_price_deviation")
}

func TestValidate_TradingModeRequiresKeys(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signing_key")
	assert.Contains(t, err.Error(), "bitmara: api_key")

	cfg.Vest.SigningKey = "deadbeef"
	cfg.Bitmara.ApiKey = "k"
	cfg.Bitmara.ApiSecret = "s"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_BitmaraKeyPairTravelsTogether(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "ingest"
	cfg.Bitmara.ApiKey = "k"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "set together")
}

func TestValidate_SealedKeyNeedsPassword(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Vest.SealedKeyPath = "/keys/vest.sealed.json"
	cfg.Bitmara.ApiKey = "k"
	cfg.Bitmara.ApiSecret = "s"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key_password")

	cfg.Vest.KeyPassword = "pw"
	assert.NoError(t, cfg.Validate())
}
