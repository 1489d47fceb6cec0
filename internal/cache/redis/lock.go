package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/fulcrumbot/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockLua deletes the lock only while it still holds the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager implements domain.LockManager with SET NX PX and a scripted
// conditional release. The worker takes one lock per trade request so two
// workers never execute the same request.
type LockManager struct {
	rdb      *redis.Client
	unlockSc *redis.Script
	prefix   string
}

// NewLockManager creates a LockManager whose keys live under prefix
// (default "lock:").
func NewLockManager(c *Client, prefix string) *LockManager {
	if prefix == "" {
		prefix = "lock:"
	}
	return &LockManager{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
		prefix:   prefix,
	}
}

func (lm *LockManager) key(key string) string {
	return lm.prefix + key
}

// Acquire takes the lock for key for at most ttl. It returns domain.ErrLockHeld
// when someone else holds it. The returned unlock func is idempotent.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	lk := lm.key(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// the caller's ctx may already be done
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
