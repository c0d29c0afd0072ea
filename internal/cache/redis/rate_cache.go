package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/carrydesk/carrybot/internal/domain"
)

// RateCache implements domain.RateCache: the latest funding snapshot per
// venue+instrument, JSON-encoded under a TTL'd key. The TTL doubles as the
// staleness bound; an expired key reads as not found.
type RateCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRateCache creates a RateCache. ttl bounds how long a snapshot is
// considered current.
func NewRateCache(c *Client, ttl time.Duration) *RateCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RateCache{rdb: c.Underlying(), ttl: ttl}
}

func rateKey(venue, instrument string) string {
	return "rate:" + venue + ":" + instrument
}

// SetRate stores one snapshot.
func (rc *RateCache) SetRate(ctx context.Context, rate domain.FundingRate) error {
	payload, err := json.Marshal(rate)
	if err != nil {
		return fmt.Errorf("redis: marshal rate %s/%s: %w", rate.Venue, rate.Instrument, err)
	}
	key := rateKey(rate.Venue, rate.Instrument)
	if err := rc.rdb.Set(ctx, key, payload, rc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set rate %s: %w", key, err)
	}
	return nil
}

// GetRate reads the latest snapshot for one pair. Expired or missing keys
// return domain.ErrNotFound.
func (rc *RateCache) GetRate(ctx context.Context, venue, instrument string) (domain.FundingRate, error) {
	key := rateKey(venue, instrument)
	payload, err := rc.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.FundingRate{}, domain.ErrNotFound
		}
		return domain.FundingRate{}, fmt.Errorf("redis: get rate %s: %w", key, err)
	}

	var rate domain.FundingRate
	if err := json.Unmarshal(payload, &rate); err != nil {
		return domain.FundingRate{}, fmt.Errorf("redis: decode rate %s: %w", key, err)
	}
	return rate, nil
}

// GetRates reads many snapshots in one round trip. keys use the
// "venue:instrument" form; missing entries are omitted from the result.
func (rc *RateCache) GetRates(ctx context.Context, keys []string) (map[string]domain.FundingRate, error) {
	if len(keys) == 0 {
		return map[string]domain.FundingRate{}, nil
	}

	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = "rate:" + k
	}

	values, err := rc.rdb.MGet(ctx, redisKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: mget rates: %w", err)
	}

	out := make(map[string]domain.FundingRate, len(keys))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var rate domain.FundingRate
		if err := json.Unmarshal([]byte(s), &rate); err != nil {
			return nil, fmt.Errorf("redis: decode rate %s: %w", redisKeys[i], err)
		}
		out[keys[i]] = rate
	}
	return out, nil
}

var _ domain.RateCache = (*RateCache)(nil)
