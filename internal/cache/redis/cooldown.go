package redis

import (
	"context"
	"fmt"
	"time"

	"perp-ledger/internal/cooldown"

	"github.com/redis/go-redis/v9"
)

// Cooldowns implements cooldown.Store with keys that expire after their TTL.
type Cooldowns struct {
	rdb *redis.Client
	now func() time.Time
}

func NewCooldowns(c *Client) *Cooldowns {
	return &Cooldowns{rdb: c.Underlying(), now: time.Now}
}

var _ cooldown.Store = (*Cooldowns)(nil)

func cooldownKey(key string) string {
	return "cooldown:" + key
}

func (c *Cooldowns) Claim(ctx context.Context, key string, ttl time.Duration) (bool, time.Time, error) {
	now := c.now()
	ok, err := c.rdb.SetNX(ctx, cooldownKey(key), now.UnixMilli(), ttl).Result()
	if err != nil {
		return false, time.Time{}, fmt.Errorf("redis: claim cooldown %s: %w", key, err)
	}
	if ok {
		return true, now.Add(ttl), nil
	}
	until, err := c.Until(ctx, key)
	if err != nil {
		return false, time.Time{}, err
	}
	return false, until, nil
}

// Until reports when key expires, or the zero time when it is not set.
func (c *Cooldowns) Until(ctx context.Context, key string) (time.Time, error) {
	ttl, err := c.rdb.PTTL(ctx, cooldownKey(key)).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("redis: cooldown ttl %s: %w", key, err)
	}
	if ttl <= 0 {
		return time.Time{}, nil
	}
	return c.now().Add(ttl), nil
}

func (c *Cooldowns) Release(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, cooldownKey(key)).Err(); err != nil {
		return fmt.Errorf("redis: release cooldown %s: %w", key, err)
	}
	return nil
}
