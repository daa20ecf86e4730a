package resilience

import (
	"context"
	"sync"
	"time"
)

type tokenBucket struct {
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	last       time.Time
}

// Limiter is a token-bucket rate limiter keyed by service name.
type Limiter struct {
	mu sync.Mutex
	m  map[string]*tokenBucket
}

func NewLimiter() *Limiter { return &Limiter{m: make(map[string]*tokenBucket)} }

// Allow returns true if one token can be consumed for key.
func (l *Limiter) Allow(key string, capacity, refillPerSec float64) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.m[key]
	if !ok {
		b = &tokenBucket{tokens: capacity, capacity: capacity, refillRate: refillPerSec, last: now}
		l.m[key] = b
	}
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.last = now
	}
	if b.tokens >= 1 {
		b.tokens -= 1
		return true
	}
	return false
}

// Wait blocks until a token is available or maxWait elapses. It returns
// false on timeout or context cancellation so callers can fail with a
// rate-limited error instead of blocking a cycle indefinitely.
func (l *Limiter) Wait(ctx context.Context, key string, capacity, refillPerSec float64, maxWait time.Duration) bool {
	deadline := time.Now().Add(maxWait)
	for {
		if l.Allow(key, capacity, refillPerSec) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(20 * time.Millisecond):
		}
	}
}
