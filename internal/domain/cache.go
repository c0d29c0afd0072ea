package domain

import (
	"context"
	"time"
)

// RateCache provides fast access to the latest funding rate per
// venue+instrument, with a TTL matching the detection staleness window.
type RateCache interface {
	SetRate(ctx context.Context, rate FundingRate) error
	GetRate(ctx context.Context, venue, instrument string) (FundingRate, error)
	GetRates(ctx context.Context, keys []string) (map[string]FundingRate, error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams for engine events
// (rate updates, trade opens, position closes, exposure alerts).
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// LockManager provides distributed locking for job passes.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter provides per-venue request budgeting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
