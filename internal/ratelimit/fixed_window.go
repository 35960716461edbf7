package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// The window opens with the first hit on a key and closes when the key
// expires, so the remaining TTL is exactly the wait before the next window.
var windowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// FixedWindowLimiter counts hits per key in Redis so every replica shares
// one budget. Windows start at a key's first hit.
type FixedWindowLimiter struct {
	client  *redis.Client
	prefix  string
	limit   int64
	window  time.Duration
	timeout time.Duration
}

// NewRedisFixedWindowLimiter creates a Redis-backed limiter allowing limit
// hits per key per window.
func NewRedisFixedWindowLimiter(addr, password, prefix string, limit int, window time.Duration) (*FixedWindowLimiter, error) {
	if limit <= 0 || window < time.Millisecond {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("rate limiter redis addr is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "bookshelf:ratelimit"
	}
	return &FixedWindowLimiter{
		client:  redis.NewClient(&redis.Options{Addr: addr, Password: password}),
		prefix:  prefix,
		limit:   int64(limit),
		window:  window,
		timeout: 2 * time.Second,
	}, nil
}

// Reserve counts one hit against key. Over budget, RetryAfter is the time
// left in the key's window. Redis failures reject the request and ask the
// caller to retry after a full window.
func (l *FixedWindowLimiter) Reserve(key string) Decision {
	if l == nil {
		return Decision{}
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	res, err := windowScript.Run(ctx, l.client, []string{l.prefix + ":" + key}, l.window.Milliseconds()).Int64Slice()
	if err != nil || len(res) != 2 {
		return Decision{RetryAfter: l.window}
	}
	count, ttl := res[0], time.Duration(res[1])*time.Millisecond
	if count <= l.limit {
		return Decision{Allowed: true}
	}
	return Decision{RetryAfter: min(ttl, l.window)}
}

// Close releases the Redis connection pool.
func (l *FixedWindowLimiter) Close() error {
	return l.client.Close()
}
