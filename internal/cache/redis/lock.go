package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/l2book/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockLua deletes a lock only if it still holds the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// renewLua extends a lock only if it still holds the caller's token.
const renewLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager with SET NX plus a token checked
// on renewal and release.
type LockManager struct {
	rdb    *redis.Client
	unlock *redis.Script
	renew  *redis.Script
	onLost func(key string)
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:    c.Underlying(),
		unlock: redis.NewScript(unlockLua),
		renew:  redis.NewScript(renewLua),
	}
}

// OnLost registers fn to run when a held lock could not be renewed.
func (lm *LockManager) OnLost(fn func(key string)) {
	lm.onLost = fn
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire takes the lock for key. While held, the lock is renewed every third
// of ttl until the returned unlock is called or ctx ends. It returns
// domain.ErrLockNotAcquired if another holder has it.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: lock %s: %w", key, domain.ErrLockNotAcquired)
	}

	renewCtx, stop := context.WithCancel(ctx)
	if ttl > 0 {
		go lm.keepAlive(renewCtx, key, lk, token, ttl)
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			stop()
			// the caller's context may already be cancelled
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlock.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
		})
	}
	return unlock, nil
}

func (lm *LockManager) keepAlive(ctx context.Context, key, lk, token string, ttl time.Duration) {
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := lm.renew.Run(ctx, lm.rdb, []string{lk}, token, ttl.Milliseconds()).Int64()
			if ctx.Err() != nil {
				return
			}
			if err != nil || n == 0 {
				if lm.onLost != nil {
					lm.onLost(key)
				}
				return
			}
		}
	}
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
