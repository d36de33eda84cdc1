package ratelimit

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestLimiter(t *testing.T, cfg Config) *Limiter {
	t.Helper()

	l := NewLimiter(cfg, zerolog.Nop())
	t.Cleanup(func() { l.Close() })
	return l
}

func TestAllowEnforcesLimit(t *testing.T) {
	l := newTestLimiter(t, Config{DefaultLimit: 3, Window: time.Minute})

	for i := 0; i < 3; i++ {
		if !l.Allow("session-1", "tournaments") {
			t.Fatalf("Request %d denied below the limit", i+1)
		}
	}

	if l.Allow("session-1", "tournaments") {
		t.Error("Request above the limit was admitted")
	}
}

func TestAllowIsolatesIdentities(t *testing.T) {
	l := newTestLimiter(t, Config{DefaultLimit: 1, Window: time.Minute})

	if !l.Allow("session-1", "tournaments") {
		t.Fatal("First identity denied")
	}
	if !l.Allow("session-2", "tournaments") {
		t.Error("Second identity shares the first identity's window")
	}
	if !l.Allow("session-1", "rankings") {
		t.Error("Second endpoint shares the first endpoint's window")
	}
}

func TestAllowWindowSlides(t *testing.T) {
	l := newTestLimiter(t, Config{DefaultLimit: 1, Window: 50 * time.Millisecond})

	if !l.Allow("session-1", "scoring") {
		t.Fatal("First request denied")
	}
	if l.Allow("session-1", "scoring") {
		t.Fatal("Second request admitted within the window")
	}

	time.Sleep(60 * time.Millisecond)

	if !l.Allow("session-1", "scoring") {
		t.Error("Request denied after the window slid past the admission")
	}
}

func TestRemaining(t *testing.T) {
	l := newTestLimiter(t, Config{DefaultLimit: 5, Window: time.Minute})

	if got := l.Remaining("session-1", "field"); got != 5 {
		t.Errorf("Remaining = %d, want 5", got)
	}

	l.Allow("session-1", "field")
	l.Allow("session-1", "field")

	if got := l.Remaining("session-1", "field"); got != 3 {
		t.Errorf("Remaining = %d, want 3", got)
	}
}

func TestRetryAfter(t *testing.T) {
	l := newTestLimiter(t, Config{DefaultLimit: 1, Window: time.Minute})

	if got := l.RetryAfter("session-1", "field"); got != 0 {
		t.Errorf("RetryAfter with no admissions = %v, want 0", got)
	}

	l.Allow("session-1", "field")

	got := l.RetryAfter("session-1", "field")
	if got <= 0 || got > time.Minute {
		t.Errorf("RetryAfter = %v, want in (0, 1m]", got)
	}
}

func TestLimitPrecedence(t *testing.T) {
	l := newTestLimiter(t, Config{
		DefaultLimit: 100,
		Window:       time.Minute,
		Overrides:    map[string]int{"scoring": 300},
		MinLimit:     10,
		MaxLimit:     1000,
	})

	if got := l.Limit("tournaments"); got != 100 {
		t.Errorf("Default limit = %d, want 100", got)
	}
	if got := l.Limit("scoring"); got != 300 {
		t.Errorf("Override limit = %d, want 300", got)
	}

	l.Adjust("scoring", 0.5)
	if got := l.Limit("scoring"); got != 150 {
		t.Errorf("Adjusted limit = %d, want 150", got)
	}
}

func TestAdjustClamps(t *testing.T) {
	l := newTestLimiter(t, Config{
		DefaultLimit: 100,
		Window:       time.Minute,
		MinLimit:     10,
		MaxLimit:     120,
	})

	l.Adjust("tournaments", 0.01)
	if got := l.Limit("tournaments"); got != 10 {
		t.Errorf("Limit after tiny factor = %d, want MinLimit 10", got)
	}

	l.Adjust("tournaments", 5.0)
	if got := l.Limit("tournaments"); got != 120 {
		t.Errorf("Limit after huge factor = %d, want MaxLimit 120", got)
	}

	l.Adjust("tournaments", 1.0)
	if got := l.Limit("tournaments"); got != 100 {
		t.Errorf("Limit after factor 1.0 = %d, want base 100", got)
	}
}

func TestEndpointsListsActiveWindows(t *testing.T) {
	l := newTestLimiter(t, Config{DefaultLimit: 10, Window: time.Minute})

	l.Allow("session-1", "tournaments")
	l.Allow("session-2", "tournaments")
	l.Allow("session-1", "rankings")

	endpoints := l.Endpoints()
	if len(endpoints) != 2 {
		t.Errorf("Endpoints = %v, want 2 unique endpoints", endpoints)
	}
}

func TestSweepDropsIdleWindows(t *testing.T) {
	l := newTestLimiter(t, Config{DefaultLimit: 10, Window: 10 * time.Millisecond})

	l.Allow("session-1", "tournaments")
	time.Sleep(30 * time.Millisecond)

	l.sweep(time.Now())

	if got := len(l.Endpoints()); got != 0 {
		t.Errorf("Active endpoints after sweep = %d, want 0", got)
	}
}
