package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/clearinghouse/internal/domain"
)

// unlockLua deletes a lock key only when its value still matches the
// holder's token, so a holder whose TTL expired cannot release a lock that
// has since been re-acquired by another replica.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// unlockTimeout bounds the release call; it runs on a background context so
// a lock is released even when the settlement's own context was cancelled.
const unlockTimeout = 5 * time.Second

// LockManager implements domain.LockManager with SETNX + TTL. The clearing
// service uses it to serialize settlement entry points across replicas:
// engine fill state is process-local, so only one writer may exist at a
// time.
type LockManager struct {
	rdb      *redis.Client
	unlockSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
	}
}

func lockKey(key string) string {
	return "clearing:lock:" + key
}

// Acquire takes the lock for key with the given TTL and returns a release
// function that is safe to call more than once. Returns domain.ErrLockHeld
// when another holder has the lock.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	released := false
	unlock := func() {
		if released {
			return
		}
		released = true

		unlockCtx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
		defer cancel()
		_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
	}
	return unlock, nil
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
