package resilience

import (
	"testing"
	"time"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreaker("svc", BreakerConfig{FailureThreshold: 3, OpenTimeout: time.Minute}, nil)

	b.OnFailure()
	b.OnFailure()
	if b.State() != StateClosed {
		t.Fatalf("expected closed after 2 failures, got %v", b.State())
	}
	b.OnFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open after 3 failures, got %v", b.State())
	}
	if b.Allow() {
		t.Fatalf("open breaker must reject calls")
	}
}

func TestBreakerSuccessResetsStreak(t *testing.T) {
	b := NewBreaker("svc", BreakerConfig{FailureThreshold: 3, OpenTimeout: time.Minute}, nil)

	b.OnFailure()
	b.OnFailure()
	b.OnSuccess()
	b.OnFailure()
	b.OnFailure()
	if b.State() != StateClosed {
		t.Fatalf("streak should have reset, got %v", b.State())
	}
	if b.ConsecutiveFailures() != 2 {
		t.Fatalf("expected streak 2, got %d", b.ConsecutiveFailures())
	}
}

func TestBreakerIgnoreKeepsStreak(t *testing.T) {
	b := NewBreaker("svc", BreakerConfig{FailureThreshold: 3, OpenTimeout: time.Minute}, nil)

	b.OnFailure()
	b.OnFailure()
	b.OnIgnore()
	if b.ConsecutiveFailures() != 2 {
		t.Fatalf("ignored call must not touch the streak, got %d", b.ConsecutiveFailures())
	}
	b.OnFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open after 3 counted failures, got %v", b.State())
	}
}

func TestBreakerIgnoreReleasesTrialSlot(t *testing.T) {
	b := NewBreaker("svc", BreakerConfig{FailureThreshold: 1, OpenTimeout: 5 * time.Millisecond}, nil)

	b.OnFailure()
	time.Sleep(10 * time.Millisecond)
	if !b.Allow() {
		t.Fatalf("expected trial slot after open timeout")
	}
	b.OnIgnore()
	if b.State() != StateHalfOpen {
		t.Fatalf("ignored trial must not resolve the breaker, got %v", b.State())
	}
	if !b.Allow() {
		t.Fatalf("slot should be free for the next caller")
	}
	b.OnSuccess()
	if b.State() != StateClosed {
		t.Fatalf("expected closed after successful trial, got %v", b.State())
	}
}

func TestBreakerHalfOpenSingleTrial(t *testing.T) {
	b := NewBreaker("svc", BreakerConfig{FailureThreshold: 1, OpenTimeout: 10 * time.Millisecond}, nil)

	b.OnFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %v", b.State())
	}

	time.Sleep(20 * time.Millisecond)
	if !b.Allow() {
		t.Fatalf("expected trial slot after open timeout")
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half_open, got %v", b.State())
	}
	if b.Allow() {
		t.Fatalf("second caller must not get a trial slot")
	}

	b.OnSuccess()
	if b.State() != StateClosed {
		t.Fatalf("trial success should close the breaker, got %v", b.State())
	}
}

func TestBreakerTrialFailureReopens(t *testing.T) {
	b := NewBreaker("svc", BreakerConfig{FailureThreshold: 1, OpenTimeout: 5 * time.Millisecond}, nil)

	b.OnFailure()
	time.Sleep(10 * time.Millisecond)
	if !b.Allow() {
		t.Fatalf("expected trial slot")
	}
	b.OnFailure()
	if b.State() != StateOpen {
		t.Fatalf("trial failure should reopen, got %v", b.State())
	}
	if b.Allow() {
		t.Fatalf("reopened breaker must reject immediately")
	}
}

func TestBreakerTransitionCallback(t *testing.T) {
	ch := make(chan BreakerState, 4)
	b := NewBreaker("svc", BreakerConfig{FailureThreshold: 1, OpenTimeout: time.Minute}, func(service string, from, to BreakerState) {
		if service != "svc" {
			t.Errorf("unexpected service %q", service)
		}
		ch <- to
	})

	b.OnFailure()
	select {
	case to := <-ch:
		if to != StateOpen {
			t.Fatalf("expected transition to open, got %v", to)
		}
	case <-time.After(time.Second):
		t.Fatalf("transition callback never fired")
	}
}
