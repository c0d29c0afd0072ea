package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/carrydesk/carrybot/internal/domain"
)

const (
	lockKeyPrefix  = "lock:"
	releaseTimeout = 5 * time.Second
)

// releaseUnlessStolen deletes the lock key only when it still carries the
// holder's token. A lock whose TTL lapsed and was re-acquired elsewhere
// holds a different token and is left alone.
var releaseUnlessStolen = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// LockManager implements domain.LockManager with SET NX leases: each holder
// stamps the key with a unique token, and release is conditional on that
// token still being present.
type LockManager struct {
	rdb *redis.Client
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{rdb: c.Underlying()}
}

// lease is one held lock. Release is idempotent.
type lease struct {
	rdb   *redis.Client
	key   string
	token string
	once  sync.Once
}

func (l *lease) release() {
	l.once.Do(func() {
		// The holder's context may already be cancelled by the time it
		// lets go; release on a fresh one so the key does not linger
		// until its TTL expires.
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		_ = releaseUnlessStolen.Run(ctx, l.rdb, []string{l.key}, l.token).Err()
	})
}

// Acquire obtains the named lock for at most ttl and returns its release
// function. Returns domain.ErrLockHeld when another party holds the lock.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l := &lease{
		rdb:   lm.rdb,
		key:   lockKeyPrefix + key,
		token: uuid.New().String(),
	}

	ok, err := lm.rdb.SetNX(ctx, l.key, l.token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}
	return l.release, nil
}

var _ domain.LockManager = (*LockManager)(nil)
