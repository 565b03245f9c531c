package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter is a registry of token buckets, one per scope key (per-account,
// per-upstream-route). Allow is deterministic and never blocks; callers that
// prefer to wait use Wait.
type Limiter struct {
	mu       sync.RWMutex
	buckets  map[string]*rate.Limiter
	capacity int
	refill   rate.Limit
}

// New creates a limiter whose buckets hold capacity tokens and refill at
// refill tokens per second.
func New(capacity int, refill float64) *Limiter {
	return &Limiter{
		buckets:  make(map[string]*rate.Limiter),
		capacity: capacity,
		refill:   rate.Limit(refill),
	}
}

func (l *Limiter) bucket(scope string) *rate.Limiter {
	l.mu.RLock()
	b, ok := l.buckets[scope]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.buckets[scope]; ok {
		return b
	}
	b = rate.NewLimiter(l.refill, l.capacity)
	l.buckets[scope] = b
	return b
}

// Allow consumes one token from the scope's bucket if available.
func (l *Limiter) Allow(scope string) bool {
	return l.bucket(scope).Allow()
}

// Wait blocks until a token is available for the scope or ctx is done.
func (l *Limiter) Wait(ctx context.Context, scope string) error {
	return l.bucket(scope).Wait(ctx)
}

// Scopes returns the number of tracked scope buckets.
func (l *Limiter) Scopes() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buckets)
}
