package resilience

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker state machine position.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes one service's breaker.
type BreakerConfig struct {
	FailureThreshold int
	OpenTimeout      time.Duration
}

// TransitionFunc observes breaker state changes. Advisory only.
type TransitionFunc func(service string, from, to BreakerState)

// Breaker is a per-service circuit breaker. CLOSED passes calls through and
// counts consecutive failures; OPEN fails fast until OpenTimeout has elapsed;
// HALF_OPEN admits exactly one trial call which resolves the breaker to
// CLOSED on success or back to OPEN on failure.
type Breaker struct {
	service string
	cfg     BreakerConfig
	onShift TransitionFunc

	mu           sync.Mutex
	state        BreakerState
	failures     int
	openedAt     time.Time
	trialInFlight bool
}

func NewBreaker(service string, cfg BreakerConfig, onShift TransitionFunc) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 60 * time.Second
	}
	return &Breaker{service: service, cfg: cfg, onShift: onShift}
}

// Allow reports whether a call may proceed. In HALF_OPEN only the first
// caller gets the trial slot; concurrent callers are rejected until the
// trial resolves.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.openedAt) < b.cfg.OpenTimeout {
			return false
		}
		b.shift(StateHalfOpen)
		b.trialInFlight = true
		return true
	case StateHalfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	}
	return false
}

// OnSuccess records a successful call.
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.state == StateHalfOpen {
		b.trialInFlight = false
		b.shift(StateClosed)
	}
}

// OnIgnore records a call whose outcome says nothing about service health,
// such as a rejected request. The failure streak is untouched; a HALF_OPEN
// trial slot is released unresolved so the next caller can take it.
func (b *Breaker) OnIgnore() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.trialInFlight = false
	}
}

// OnFailure records a failed call and opens the breaker when the
// consecutive-failure threshold is reached.
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.trialInFlight = false
		b.openedAt = time.Now()
		b.shift(StateOpen)
		return
	}
	b.failures++
	if b.state == StateClosed && b.failures >= b.cfg.FailureThreshold {
		b.openedAt = time.Now()
		b.shift(StateOpen)
	}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ConsecutiveFailures returns the current failure streak.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// shift must be called with b.mu held.
func (b *Breaker) shift(to BreakerState) {
	from := b.state
	b.state = to
	if to == StateClosed {
		b.failures = 0
	}
	if b.onShift != nil && from != to {
		go b.onShift(b.service, from, to)
	}
}
