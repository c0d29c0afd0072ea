package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/carrydesk/carrybot/internal/blob/s3"
	"github.com/carrydesk/carrybot/internal/cache/redis"
	"github.com/carrydesk/carrybot/internal/config"
	"github.com/carrydesk/carrybot/internal/crypto"
	"github.com/carrydesk/carrybot/internal/domain"
	"github.com/carrydesk/carrybot/internal/notify"
	"github.com/carrydesk/carrybot/internal/store/postgres"
	"github.com/carrydesk/carrybot/internal/venue"
	"github.com/carrydesk/carrybot/internal/venue/bitmara"
	"github.com/carrydesk/carrybot/internal/venue/vest"
)

// Dependencies bundles every domain-level dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	RateStore     domain.FundingRateStore
	TradeStore    domain.TradeStore
	PositionStore domain.PositionStore
	SettingsStore domain.UserSettingsStore
	AuditStore    domain.AuditStore

	// Caches
	RateCache   domain.RateCache
	SignalBus   domain.SignalBus
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter

	// Blob storage
	Archiver domain.Archiver

	// Notifications
	Notifier *notify.Notifier

	// Venues, in registration order.
	Connectors []domain.Connector
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function to call on
// shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.RateStore = postgres.NewFundingRateStore(pool)
	deps.TradeStore = postgres.NewTradeStore(pool)
	deps.PositionStore = postgres.NewPositionStore(pool)
	deps.SettingsStore = postgres.NewUserSettingsStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.RateCache = redis.NewRateCache(redisClient, cfg.Detector.MaxStaleness.Duration)
	deps.SignalBus = redis.NewSignalBus(redisClient, 0)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)

	// --- S3 archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKey,
			SecretAccessKey: cfg.S3.SecretKey,
			UsePathStyle:    cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(deps.RateStore, s3Client, logger)
	}

	// --- Venues ---
	if cfg.Vest.Enabled {
		signer, err := vestSigner(cfg.Vest)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: vest signer: %w", err)
		}
		conn := vest.NewClient(cfg.Vest.BaseURL, cfg.Vest.ApiKey, signer, logger)
		venue.Register(conn)
		deps.Connectors = append(deps.Connectors, conn)
	}
	if cfg.Bitmara.Enabled {
		auth := &crypto.HMACAuth{Key: cfg.Bitmara.ApiKey, Secret: cfg.Bitmara.ApiSecret}
		conn := bitmara.NewClient(cfg.Bitmara.BaseURL, auth, logger)
		venue.Register(conn)
		deps.Connectors = append(deps.Connectors, conn)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.New(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// vestSigner builds the order signer from whichever key source is
// configured. Read-only modes may run without one.
func vestSigner(cfg config.VestConfig) (*crypto.Signer, error) {
	if cfg.SigningKey == "" && cfg.SealedKeyPath == "" {
		return nil, nil
	}
	keyHex, err := crypto.LoadSigningKey(crypto.KeyConfig{
		RawKey:        cfg.SigningKey,
		SealedKeyPath: cfg.SealedKeyPath,
		Password:      cfg.KeyPassword,
	})
	if err != nil {
		return nil, err
	}
	return crypto.NewSigner(keyHex)
}

// wireTimeout bounds dependency construction at startup.
const wireTimeout = 30 * time.Second
