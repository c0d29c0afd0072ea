// Package config defines the top-level configuration for the carry bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by CARRYBOT_* environment
// variables.
type Config struct {
	Vest     VestConfig     `toml:"vest"`
	Bitmara  BitmaraConfig  `toml:"bitmara"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Detector DetectorConfig `toml:"detector"`
	Engine   EngineConfig   `toml:"engine"`
	Jobs     JobsConfig     `toml:"jobs"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// VestConfig holds the perp-DEX endpoint and signing credentials.
type VestConfig struct {
	Enabled       bool   `toml:"enabled"`
	BaseURL       string `toml:"base_url"`
	WsURL         string `toml:"ws_url"`
	ApiKey        string `toml:"api_key"`
	SigningKey    string `toml:"signing_key"` // raw hex private key
	SealedKeyPath string `toml:"sealed_key_path"`
	KeyPassword   string `toml:"key_password"`
}

// BitmaraConfig holds the unmargined venue's endpoint and HMAC credentials.
type BitmaraConfig struct {
	Enabled   bool   `toml:"enabled"`
	BaseURL   string `toml:"base_url"`
	ApiKey    string `toml:"api_key"`
	ApiSecret string `toml:"api_secret"`
}

// PostgresConfig holds database connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds object-storage parameters for the history archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// DetectorConfig holds opportunity-detection thresholds.
type DetectorConfig struct {
	MaxStaleness      duration `toml:"max_staleness"`
	MinSpreadAPR      float64  `toml:"min_spread_apr"`
	MaxPriceDeviation float64  `toml:"max_price_deviation"`
	MaxResults        int      `toml:"max_results"`
	AllowedVenues     []string `toml:"allowed_venues"`
	EstablishedVenues []string `toml:"established_venues"`
}

// EngineConfig holds trade-execution parameters.
type EngineConfig struct {
	RecheckDeviation  bool     `toml:"recheck_deviation"`
	MaxPriceDeviation float64  `toml:"max_price_deviation"`
	OpeningGrace      duration `toml:"opening_grace"`
}

// JobsConfig holds the periodic job schedule.
type JobsConfig struct {
	IngestInterval     duration `toml:"ingest_interval"`
	TradingInterval    duration `toml:"trading_interval"`
	MonitorInterval    duration `toml:"monitor_interval"`
	ArchiveInterval    duration `toml:"archive_interval"`
	ArchiveOlderDays   int      `toml:"archive_older_days"`
	Instruments        []string `toml:"instruments"`
	VenueRequestLimit  int      `toml:"venue_request_limit"`
	VenueRequestWindow duration `toml:"venue_request_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so TOML strings like "5m" decode directly.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Vest: VestConfig{
			Enabled: true,
			BaseURL: "https://serverprod.vest.exchange/v2",
			WsURL:   "wss://wsprod.vest.exchange/ws-api",
		},
		Bitmara: BitmaraConfig{
			Enabled: true,
			BaseURL: "https://api.bitmara.com",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "carrybot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "carrybot-archive",
			ForcePathStyle: true,
		},
		Detector: DetectorConfig{
			MaxStaleness:      duration{2 * time.Hour},
			MinSpreadAPR:      10,
			MaxPriceDeviation: 0.5,
			MaxResults:        50,
			EstablishedVenues: []string{"vest", "bitmara"},
		},
		Engine: EngineConfig{
			RecheckDeviation:  true,
			MaxPriceDeviation: 0.5,
			OpeningGrace:      duration{10 * time.Minute},
		},
		Jobs: JobsConfig{
			IngestInterval:     duration{time.Minute},
			TradingInterval:    duration{5 * time.Minute},
			MonitorInterval:    duration{time.Minute},
			ArchiveInterval:    duration{24 * time.Hour},
			ArchiveOlderDays:   30,
			VenueRequestLimit:  60,
			VenueRequestWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"trade_opened", "trade_closed", "trade_error", "leg_exposed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"ingest":  true,
	"trade":   true,
	"monitor": true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the Config for invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: ingest, trade, monitor, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if !c.Vest.Enabled && !c.Bitmara.Enabled {
		errs = append(errs, "at least one venue must be enabled")
	}

	needsKeys := c.Mode == "trade" || c.Mode == "full" || c.Mode == "monitor"
	if c.Vest.Enabled {
		if c.Vest.BaseURL == "" {
			errs = append(errs, "vest: base_url must not be empty")
		}
		if needsKeys {
			if c.Vest.SigningKey == "" && c.Vest.SealedKeyPath == "" {
				errs = append(errs, "vest: either signing_key or sealed_key_path must be set for mode "+c.Mode)
			}
			if c.Vest.SealedKeyPath != "" && c.Vest.KeyPassword == "" {
				errs = append(errs, "vest: key_password is required when sealed_key_path is set")
			}
		}
	}
	if c.Bitmara.Enabled {
		if c.Bitmara.BaseURL == "" {
			errs = append(errs, "bitmara: base_url must not be empty")
		}
		// Key and secret travel together.
		hasKey := c.Bitmara.ApiKey != ""
		hasSecret := c.Bitmara.ApiSecret != ""
		if hasKey != hasSecret {
			errs = append(errs, "bitmara: api_key and api_secret must be set together")
		}
		if needsKeys && !hasKey {
			errs = append(errs, "bitmara: api_key and api_secret are required for mode "+c.Mode)
		}
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when enabled")
		}
	}

	if c.Detector.MinSpreadAPR < 0 {
		errs = append(errs, "detector: min_spread_apr must be >= 0")
	}
	if c.Detector.MaxPriceDeviation <= 0 {
		errs = append(errs, "detector: max_price_deviation must be > 0")
	}
	if c.Detector.MaxStaleness.Duration <= 0 {
		errs = append(errs, "detector: max_staleness must be > 0")
	}

	if c.Engine.RecheckDeviation && c.Engine.MaxPriceDeviation <= 0 {
		errs = append(errs, "engine: max_price_deviation must be > 0 when recheck_deviation is set")
	}
	if c.Engine.OpeningGrace.Duration <= 0 {
		errs = append(errs, "engine: opening_grace must be > 0")
	}

	if c.Jobs.IngestInterval.Duration <= 0 {
		errs = append(errs, "jobs: ingest_interval must be > 0")
	}
	if c.Jobs.TradingInterval.Duration <= 0 {
		errs = append(errs, "jobs: trading_interval must be > 0")
	}
	if c.Jobs.MonitorInterval.Duration <= 0 {
		errs = append(errs, "jobs: monitor_interval must be > 0")
	}
	if c.Jobs.ArchiveOlderDays < 1 {
		errs = append(errs, "jobs: archive_older_days must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
