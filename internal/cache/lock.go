package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CrawlLock is the per-site cooldown guarding against recrawl storms. It is
// a presence-only key checked before a crawl job is enqueued; the worker
// itself never looks at it. Expiry is the only release path in normal
// operation.
type CrawlLock struct {
	rdb Cmdable
	ttl time.Duration
}

// NewCrawlLock returns a cooldown lock with the given window.
func NewCrawlLock(rdb Cmdable, ttl time.Duration) *CrawlLock {
	return &CrawlLock{rdb: rdb, ttl: ttl}
}

func cooldownKey(siteID string) string {
	return "crawl:cooldown:" + siteID
}

// Acquire attempts to take the cooldown for a site. Returns false when a
// crawl ran within the cooldown window.
func (l *CrawlLock) Acquire(ctx context.Context, siteID string) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, cooldownKey(siteID), 1, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire crawl cooldown: %w", err)
	}
	return ok, nil
}

// Remaining reports how long until the cooldown expires. Zero means no
// cooldown is active.
func (l *CrawlLock) Remaining(ctx context.Context, siteID string) (time.Duration, error) {
	ttl, err := l.rdb.TTL(ctx, cooldownKey(siteID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("read crawl cooldown: %w", err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Release drops the cooldown early, used when enqueueing the job fails
// after the lock was taken.
func (l *CrawlLock) Release(ctx context.Context, siteID string) error {
	return l.rdb.Del(ctx, cooldownKey(siteID)).Err()
}
