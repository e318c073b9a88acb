package upstream

import (
	"testing"
	"time"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	b := NewBreaker(BreakerConfig{FailureThreshold: 3, SuccessThreshold: 2, RecoveryWindow: 30 * time.Second, Clock: clock})

	for i := 0; i < 2; i++ {
		if err := b.Call(func() error { return errBoom }); err == nil {
			t.Fatalf("expected failure to propagate")
		}
	}
	if b.State() != Closed {
		t.Fatalf("expected still closed after 2 of 3 failures, got %s", b.State())
	}

	if err := b.Call(func() error { return errBoom }); err == nil {
		t.Fatalf("expected third failure to propagate")
	}
	if b.State() != Open {
		t.Fatalf("expected open after 3 consecutive failures, got %s", b.State())
	}

	if err := b.Call(func() error { return nil }); err != ErrBreakerOpen {
		t.Fatalf("expected synthetic open-circuit error, got %v", err)
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	b := NewBreaker(BreakerConfig{FailureThreshold: 2, SuccessThreshold: 2, RecoveryWindow: 10 * time.Second, Clock: clock})

	b.Call(func() error { return errBoom })
	b.Call(func() error { return errBoom })
	if b.State() != Open {
		t.Fatalf("expected open")
	}

	now = now.Add(11 * time.Second)
	if b.State() != HalfOpen {
		t.Fatalf("expected half-open after recovery window elapses, got %s", b.State())
	}

	if err := b.Call(func() error { return nil }); err != nil {
		t.Fatalf("expected trial call to succeed: %v", err)
	}
	if b.State() != HalfOpen {
		t.Fatalf("expected to remain half-open after 1 of 2 successes")
	}

	if err := b.Call(func() error { return nil }); err != nil {
		t.Fatalf("expected second trial call to succeed: %v", err)
	}
	if b.State() != Closed {
		t.Fatalf("expected closed after 2 consecutive half-open successes, got %s", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, RecoveryWindow: 5 * time.Second, Clock: clock})

	b.Call(func() error { return errBoom })
	if b.State() != Open {
		t.Fatalf("expected open")
	}

	now = now.Add(6 * time.Second)
	if b.State() != HalfOpen {
		t.Fatalf("expected half-open")
	}

	b.Call(func() error { return errBoom })
	if b.State() != Open {
		t.Fatalf("expected a half-open failure to reopen the breaker, got %s", b.State())
	}
}

var errBoom = &ValidationError{Reason: "boom"}
