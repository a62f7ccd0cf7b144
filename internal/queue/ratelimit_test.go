package queue

import (
	"testing"
	"time"
)

func TestRateLimiterTryAcquire(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(10 * time.Second)

	// First acquire always proceeds.
	if wait, ok := limiter.TryAcquire(base); !ok || wait != 0 {
		t.Fatalf("first TryAcquire = (%v, %v), want (0, true)", wait, ok)
	}

	// 4s later: must wait the remaining 6s.
	wait, ok := limiter.TryAcquire(base.Add(4 * time.Second))
	if ok {
		t.Fatal("TryAcquire inside the interval succeeded")
	}
	if wait != 6*time.Second {
		t.Errorf("wait = %v, want 6s", wait)
	}

	// A denied acquire must not move the last-send time.
	wait, ok = limiter.TryAcquire(base.Add(9 * time.Second))
	if ok || wait != time.Second {
		t.Errorf("TryAcquire at +9s = (%v, %v), want (1s, false)", wait, ok)
	}

	// Exactly at the interval boundary: proceed.
	if _, ok := limiter.TryAcquire(base.Add(10 * time.Second)); !ok {
		t.Error("TryAcquire at the interval boundary denied")
	}

	// The boundary acquire reset the window.
	if _, ok := limiter.TryAcquire(base.Add(11 * time.Second)); ok {
		t.Error("TryAcquire 1s after a successful acquire succeeded")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	limiter := NewRateLimiter(0)
	now := time.Now()
	for i := 0; i < 3; i++ {
		if _, ok := limiter.TryAcquire(now); !ok {
			t.Fatalf("acquire %d denied with rate limiting disabled", i)
		}
	}
}
