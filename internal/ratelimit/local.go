package ratelimit

import (
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultMaxKeys = 10000

// LocalLimiter keeps one token bucket per key in process memory.
// Each bucket holds limit tokens and refills limit tokens per window.
type LocalLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets map[string]*rate.Limiter
	// overflow is shared by new keys while the table is full of active buckets.
	overflow *rate.Limiter
	maxKeys  int
	now      func() time.Time
}

// NewLocalLimiter creates an in-process limiter.
func NewLocalLimiter(limit int, window time.Duration) (*LocalLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	every := rate.Every(window / time.Duration(limit))
	return &LocalLimiter{
		limit:    every,
		burst:    limit,
		buckets:  make(map[string]*rate.Limiter),
		overflow: rate.NewLimiter(every, limit),
		maxKeys:  defaultMaxKeys,
		now:      time.Now,
	}, nil
}

// Reserve takes one token from key's bucket. When the bucket is empty the
// token is handed back and RetryAfter reports when the next one arrives.
func (l *LocalLimiter) Reserve(key string) Decision {
	if l == nil {
		return Decision{}
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.bucketLocked(key, now).ReserveN(now, 1)
	if !r.OK() {
		return Decision{}
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Decision{RetryAfter: delay}
	}
	return Decision{Allowed: true}
}

func (l *LocalLimiter) bucketLocked(key string, now time.Time) *rate.Limiter {
	if bucket, ok := l.buckets[key]; ok {
		return bucket
	}
	if len(l.buckets) >= l.maxKeys {
		l.evictIdleLocked(now)
	}
	if len(l.buckets) >= l.maxKeys {
		return l.overflow
	}
	bucket := rate.NewLimiter(l.limit, l.burst)
	l.buckets[key] = bucket
	return bucket
}

// evictIdleLocked drops buckets that have refilled completely. A full bucket
// behaves exactly like a fresh one, so forgetting it changes no decision.
func (l *LocalLimiter) evictIdleLocked(now time.Time) {
	for key, bucket := range l.buckets {
		if bucket.TokensAt(now) >= float64(l.burst) {
			delete(l.buckets, key)
		}
	}
}
