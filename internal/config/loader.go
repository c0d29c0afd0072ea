package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CARRYBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CARRYBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Vest ──
	setBool(&cfg.Vest.Enabled, "CARRYBOT_VEST_ENABLED")
	setStr(&cfg.Vest.BaseURL, "CARRYBOT_VEST_BASE_URL")
	setStr(&cfg.Vest.WsURL, "CARRYBOT_VEST_WS_URL")
	setStr(&cfg.Vest.ApiKey, "CARRYBOT_VEST_API_KEY")
	setStr(&cfg.Vest.SigningKey, "CARRYBOT_VEST_SIGNING_KEY")
	setStr(&cfg.Vest.SealedKeyPath, "CARRYBOT_VEST_SEALED_KEY_PATH")
	setStr(&cfg.Vest.KeyPassword, "CARRYBOT_VEST_KEY_PASSWORD")

	// ── Bitmara ──
	setBool(&cfg.Bitmara.Enabled, "CARRYBOT_BITMARA_ENABLED")
	setStr(&cfg.Bitmara.BaseURL, "CARRYBOT_BITMARA_BASE_URL")
	setStr(&cfg.Bitmara.ApiKey, "CARRYBOT_BITMARA_API_KEY")
	setStr(&cfg.Bitmara.ApiSecret, "CARRYBOT_BITMARA_API_SECRET")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "CARRYBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "CARRYBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CARRYBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CARRYBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CARRYBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CARRYBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CARRYBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CARRYBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CARRYBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CARRYBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "CARRYBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CARRYBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CARRYBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CARRYBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CARRYBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CARRYBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "CARRYBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "CARRYBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CARRYBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "CARRYBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CARRYBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CARRYBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "CARRYBOT_S3_FORCE_PATH_STYLE")

	// ── Detector ──
	setDuration(&cfg.Detector.MaxStaleness, "CARRYBOT_DETECTOR_MAX_STALENESS")
	setFloat64(&cfg.Detector.MinSpreadAPR, "CARRYBOT_DETECTOR_MIN_SPREAD_APR")
	setFloat64(&cfg.Detector.MaxPriceDeviation, "CARRYBOT_DETECTOR_MAX_PRICE_DEVIATION")
	setInt(&cfg.Detector.MaxResults, "CARRYBOT_DETECTOR_MAX_RESULTS")
	setStringSlice(&cfg.Detector.AllowedVenues, "CARRYBOT_DETECTOR_ALLOWED_VENUES")
	setStringSlice(&cfg.Detector.EstablishedVenues, "CARRYBOT_DETECTOR_ESTABLISHED_VENUES")

	// ── Engine ──
	setBool(&cfg.Engine.RecheckDeviation, "CARRYBOT_ENGINE_RECHECK_DEVIATION")
	setFloat64(&cfg.Engine.MaxPriceDeviation, "CARRYBOT_ENGINE_MAX_PRICE_DEVIATION")
	setDuration(&cfg.Engine.OpeningGrace, "CARRYBOT_ENGINE_OPENING_GRACE")

	// ── Jobs ──
	setDuration(&cfg.Jobs.IngestInterval, "CARRYBOT_JOBS_INGEST_INTERVAL")
	setDuration(&cfg.Jobs.TradingInterval, "CARRYBOT_JOBS_TRADING_INTERVAL")
	setDuration(&cfg.Jobs.MonitorInterval, "CARRYBOT_JOBS_MONITOR_INTERVAL")
	setDuration(&cfg.Jobs.ArchiveInterval, "CARRYBOT_JOBS_ARCHIVE_INTERVAL")
	setInt(&cfg.Jobs.ArchiveOlderDays, "CARRYBOT_JOBS_ARCHIVE_OLDER_DAYS")
	setStringSlice(&cfg.Jobs.Instruments, "CARRYBOT_JOBS_INSTRUMENTS")
	setInt(&cfg.Jobs.VenueRequestLimit, "CARRYBOT_JOBS_VENUE_REQUEST_LIMIT")
	setDuration(&cfg.Jobs.VenueRequestWindow, "CARRYBOT_JOBS_VENUE_REQUEST_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CARRYBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CARRYBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CARRYBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CARRYBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "CARRYBOT_MODE")
	setStr(&cfg.LogLevel, "CARRYBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
