package ratelimit

import "time"

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed bool
	// RetryAfter is how long a rejected caller should wait. Zero when allowed.
	RetryAfter time.Duration
}

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Reserve(key string) Decision
}
