package cache

import (
	"context"
	"time"
)

const (
	sessionWindow = 24 * time.Hour
	ipWindow      = time.Hour
)

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// RateLimiter enforces the two chat budgets: a per-session cap configured
// on the site, and a fixed per-IP cap. Checking and incrementing are
// separate operations: a rejected turn must not consume budget, an
// unanswered turn must.
type RateLimiter struct {
	counter *Counter
	ipLimit int64
}

// NewRateLimiter returns a limiter with the given global per-IP cap.
func NewRateLimiter(counter *Counter, ipLimit int) *RateLimiter {
	return &RateLimiter{counter: counter, ipLimit: int64(ipLimit)}
}

func sessionKey(sessionID string) string {
	return "ratelimit:session:" + sessionID
}

func ipKey(ip string) string {
	return "ratelimit:ip:" + ip
}

// CheckSession reports whether the session may send another message under
// the site's cap.
func (r *RateLimiter) CheckSession(ctx context.Context, sessionID string, cap int64) (Decision, error) {
	return r.check(ctx, sessionKey(sessionID), cap, sessionWindow)
}

// CheckIP reports whether the IP may send another message under the global
// cap.
func (r *RateLimiter) CheckIP(ctx context.Context, ip string) (Decision, error) {
	return r.check(ctx, ipKey(ip), r.ipLimit, ipWindow)
}

func (r *RateLimiter) check(ctx context.Context, key string, limit int64, window time.Duration) (Decision, error) {
	count, err := r.counter.Get(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	if count < limit {
		return Decision{Allowed: true, Remaining: limit - count}, nil
	}
	retryAfter, err := r.counter.TTL(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	if retryAfter <= 0 {
		// Counter at the cap but no expiry left: treat as a full window.
		retryAfter = window
	}
	return Decision{Allowed: false, RetryAfter: retryAfter}, nil
}

// IncrSession consumes one unit of the session budget.
func (r *RateLimiter) IncrSession(ctx context.Context, sessionID string) error {
	_, err := r.counter.Incr(ctx, sessionKey(sessionID), sessionWindow)
	return err
}

// IncrIP consumes one unit of the IP budget.
func (r *RateLimiter) IncrIP(ctx context.Context, ip string) error {
	_, err := r.counter.Incr(ctx, ipKey(ip), ipWindow)
	return err
}
