package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeRedis implements Cmdable over a map with a manual clock, so TTL
// expiry can be simulated without sleeping.
type fakeRedis struct {
	now    time.Time
	data   map[string]string
	expiry map[string]time.Time
	failAt map[string]error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		now:    time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
		data:   make(map[string]string),
		expiry: make(map[string]time.Time),
		failAt: make(map[string]error),
	}
}

func (f *fakeRedis) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *fakeRedis) expired(key string) bool {
	deadline, ok := f.expiry[key]
	return ok && !f.now.Before(deadline)
}

func (f *fakeRedis) prune(key string) {
	if f.expired(key) {
		delete(f.data, key)
		delete(f.expiry, key)
	}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if err := f.failAt["get"]; err != nil {
		return redis.NewStringResult("", err)
	}
	f.prune(key)
	val, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(val, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if err := f.failAt["set"]; err != nil {
		return redis.NewStatusResult("", err)
	}
	f.data[key] = toString(value)
	if expiration > 0 {
		f.expiry[key] = f.now.Add(expiration)
	} else {
		delete(f.expiry, key)
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.prune(key)
	if _, ok := f.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.Set(ctx, key, value, expiration)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var removed int64
	for _, key := range keys {
		f.prune(key)
		if _, ok := f.data[key]; ok {
			delete(f.data, key)
			delete(f.expiry, key)
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

func (f *fakeRedis) Incr(ctx context.Context, key string) *redis.IntCmd {
	if err := f.failAt["incr"]; err != nil {
		return redis.NewIntResult(0, err)
	}
	f.prune(key)
	current, _ := strconv.ParseInt(f.data[key], 10, 64)
	current++
	f.data[key] = strconv.FormatInt(current, 10)
	return redis.NewIntResult(current, nil)
}

func (f *fakeRedis) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.prune(key)
	if _, ok := f.data[key]; !ok {
		return redis.NewBoolResult(false, nil)
	}
	f.expiry[key] = f.now.Add(expiration)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) TTL(ctx context.Context, key string) *redis.DurationCmd {
	f.prune(key)
	if _, ok := f.data[key]; !ok {
		return redis.NewDurationResult(-2*time.Second, nil)
	}
	deadline, ok := f.expiry[key]
	if !ok {
		return redis.NewDurationResult(-1*time.Second, nil)
	}
	return redis.NewDurationResult(deadline.Sub(f.now), nil)
}

func toString(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}
