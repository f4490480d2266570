package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"perp-ledger/internal/locks"
	"perp-ledger/internal/types"

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

const (
	defaultLease = 30 * time.Second
	retryEvery   = 10 * time.Millisecond
)

// Locker implements locks.Locker with SET NX PX and a compare-and-delete
// unlock. Lock polls until the key is free or ctx is done.
type Locker struct {
	rdb      *redis.Client
	unlockSc *redis.Script
	lease    time.Duration
}

func NewLocker(c *Client, lease time.Duration) *Locker {
	if lease <= 0 {
		lease = defaultLease
	}
	return &Locker{rdb: c.Underlying(), unlockSc: redis.NewScript(unlockLua), lease: lease}
}

var _ locks.Locker = (*Locker)(nil)

func lockKey(key string) string {
	return "lock:" + key
}

// TryLock makes one attempt. It returns types.ErrLockHeld when another holder
// owns the key.
func (l *Locker) TryLock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	lk := lockKey(key)
	ok, err := l.rdb.SetNX(ctx, lk, token, l.lease).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, types.ErrLockHeld
	}
	released := false
	return func() {
		if released {
			return
		}
		released = true
		// The caller's context may already be cancelled.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.unlockSc.Run(unlockCtx, l.rdb, []string{lk}, token).Err()
	}, nil
}

func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	for {
		unlock, err := l.TryLock(ctx, key)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, types.ErrLockHeld) {
			return nil, err
		}
		timer := time.NewTimer(retryEvery)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("redis: lock %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}
