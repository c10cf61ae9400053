package ratelimit

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		rate     float64
		capacity int64
		wantRate float64
		wantCap  float64
	}{
		{name: "valid", rate: 10.0, capacity: 100, wantRate: 10.0, wantCap: 100},
		{name: "zero rate defaults to 1", rate: 0, capacity: 5, wantRate: 1.0, wantCap: 5},
		{name: "negative capacity defaults to 1", rate: 2.0, capacity: -3, wantRate: 2.0, wantCap: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := New(tt.rate, tt.capacity)
			if limiter.rate != tt.wantRate {
				t.Errorf("rate = %v, want %v", limiter.rate, tt.wantRate)
			}
			if limiter.capacity != tt.wantCap {
				t.Errorf("capacity = %v, want %v", limiter.capacity, tt.wantCap)
			}
			if limiter.tokens == nil {
				t.Error("tokens map should not be nil")
			}
		})
	}
}

func TestAllow(t *testing.T) {
	t.Run("empty key returns error", func(t *testing.T) {
		limiter := New(10.0, 10)
		allowed, err := limiter.Allow("")
		if err == nil {
			t.Error("expected error for empty key, got nil")
		}
		if allowed {
			t.Error("expected allowed to be false for empty key")
		}
	})

	t.Run("exhausted bucket denies", func(t *testing.T) {
		clock := newFakeClock()
		limiter := New(1.0, 2).WithClock(clock.now)
		limiter.Allow("key2")
		limiter.Allow("key2")
		allowed, err := limiter.Allow("key2")
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if allowed {
			t.Error("expected third request to be denied when bucket exhausted")
		}
	})

	t.Run("different keys independent", func(t *testing.T) {
		limiter := New(1.0, 1)
		allowed1, _ := limiter.Allow("keyA")
		allowed2, _ := limiter.Allow("keyB")
		if !allowed1 || !allowed2 {
			t.Error("expected both different keys to be allowed")
		}
		if limiter.Len() != 2 {
			t.Errorf("Len() = %d, want 2", limiter.Len())
		}
	})
}

func TestReset(t *testing.T) {
	clock := newFakeClock()
	limiter := New(1.0, 1).WithClock(clock.now)
	limiter.Allow("key1")
	limiter.Allow("key2")
	limiter.Reset("key1")
	limiter.Reset("nonexistent")

	if allowed, _ := limiter.Allow("key1"); !allowed {
		t.Error("expected key1 to be allowed after reset")
	}
	if allowed, _ := limiter.Allow("key2"); allowed {
		t.Error("expected key2 to be denied (exhausted)")
	}
}

func TestTokenRefill(t *testing.T) {
	t.Run("fractional refill accumulates", func(t *testing.T) {
		clock := newFakeClock()
		limiter := New(1.0, 1).WithClock(clock.now)
		limiter.Allow("k")

		// Two half-second gaps add up to one token.
		clock.advance(500 * time.Millisecond)
		if allowed, _ := limiter.Allow("k"); allowed {
			t.Error("expected deny after half a token")
		}
		clock.advance(500 * time.Millisecond)
		if allowed, _ := limiter.Allow("k"); !allowed {
			t.Error("expected allow after a full token")
		}
	})

	t.Run("tokens do not exceed capacity", func(t *testing.T) {
		clock := newFakeClock()
		limiter := New(1000.0, 5).WithClock(clock.now)
		limiter.Allow("k")
		clock.advance(time.Hour)
		for i := 0; i < 5; i++ {
			if allowed, _ := limiter.Allow("k"); !allowed {
				t.Fatalf("request %d denied, want allowed", i)
			}
		}
		if allowed, _ := limiter.Allow("k"); allowed {
			t.Error("expected request beyond capacity to be denied")
		}
	})
}

func TestEvery(t *testing.T) {
	clock := newFakeClock()
	limiter := Every(1, time.Hour).WithClock(clock.now)

	if allowed, _ := limiter.Allow("alert"); !allowed {
		t.Fatal("first event should pass")
	}
	clock.advance(59 * time.Minute)
	if allowed, _ := limiter.Allow("alert"); allowed {
		t.Error("repeat within the window should be denied")
	}
	clock.advance(time.Minute)
	if allowed, _ := limiter.Allow("alert"); !allowed {
		t.Error("event after the window should pass")
	}
}
