package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/carrydesk/carrybot/internal/domain"
)

// allowLua increments a fixed-window counter, setting the window TTL on the
// first hit, and returns the new count.
const allowLua = `
local n = redis.call('INCR', KEYS[1])
if n == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`

// RateLimiter implements domain.RateLimiter with fixed-window counters.
// Used to budget outbound venue requests.
type RateLimiter struct {
	rdb     *redis.Client
	allowSc *redis.Script
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		rdb:     c.Underlying(),
		allowSc: redis.NewScript(allowLua),
	}
}

// Allow reports whether another request fits in the current window for key.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	n, err := rl.allowSc.Run(ctx, rl.rdb,
		[]string{"ratelimit:" + key},
		window.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	return n <= int64(limit), nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
