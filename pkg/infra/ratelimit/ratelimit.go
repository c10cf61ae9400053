// Package ratelimit provides a keyed token bucket. Each key gets its own
// bucket, so one noisy key cannot starve the others.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

type Limiter interface {
	Allow(key string) (bool, error)
	Reset(key string)
}

type TokenBucketLimiter struct {
	rate     float64 // tokens per second
	capacity float64
	now      func() time.Time

	mu     sync.Mutex
	tokens map[string]*bucket
}

type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

// New allows bursts of capacity per key, refilled at rate tokens per second.
func New(rate float64, capacity int64) *TokenBucketLimiter {
	if rate <= 0 {
		rate = 1.0
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &TokenBucketLimiter{
		rate:     rate,
		capacity: float64(capacity),
		now:      time.Now,
		tokens:   make(map[string]*bucket),
	}
}

// Every allows n events per key in any window of d.
func Every(n int64, d time.Duration) *TokenBucketLimiter {
	if n <= 0 {
		n = 1
	}
	if d <= 0 {
		d = time.Second
	}
	return New(float64(n)/d.Seconds(), n)
}

// WithClock replaces time.Now, for tests.
func (l *TokenBucketLimiter) WithClock(now func() time.Time) *TokenBucketLimiter {
	l.now = now
	return l
}

func (l *TokenBucketLimiter) Allow(key string) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("key cannot be empty")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, exists := l.tokens[key]
	now := l.now()

	if !exists {
		l.tokens[key] = &bucket{
			tokens:     l.capacity - 1,
			lastUpdate: now,
		}
		return true, nil
	}

	elapsed := now.Sub(b.lastUpdate).Seconds()
	b.tokens = min(b.tokens+elapsed*l.rate, l.capacity)
	b.lastUpdate = now

	if b.tokens >= 1 {
		b.tokens--
		return true, nil
	}

	return false, nil
}

func (l *TokenBucketLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.tokens, key)
}

// Len reports how many keys are tracked.
func (l *TokenBucketLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tokens)
}

var _ Limiter = (*TokenBucketLimiter)(nil)
