package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter is a TTL-bounded integer counter. The TTL is attached on the
// first increment only, so the window is fixed from the first action and
// the key resets itself on expiry.
type Counter struct {
	rdb Cmdable
}

// NewCounter returns a counter accessor over the given client.
func NewCounter(rdb Cmdable) *Counter {
	return &Counter{rdb: rdb}
}

// Incr increments the counter and returns the new value. A fresh key gets
// the window TTL attached.
func (c *Counter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("increment %s: %w", key, err)
	}
	if count == 1 {
		if err := c.rdb.Expire(ctx, key, window).Err(); err != nil {
			return count, fmt.Errorf("expire %s: %w", key, err)
		}
	}
	return count, nil
}

// Get returns the current count, zero when the key does not exist.
func (c *Counter) Get(ctx context.Context, key string) (int64, error) {
	raw, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", key, err)
	}
	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return count, nil
}

// TTL reports the remaining window for the key. Zero when the key does not
// exist or carries no expiry.
func (c *Counter) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := c.rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("ttl %s: %w", key, err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}
