package resilience

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// RetryConfig tunes retry-with-backoff for one service.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	Jitter      bool
}

// RateConfig tunes the token bucket for one service.
type RateConfig struct {
	Capacity     float64
	RefillPerSec float64
	MaxWait      time.Duration
}

// Policy bundles the per-service protection settings.
type Policy struct {
	Retry   RetryConfig
	Breaker BreakerConfig
	Rate    RateConfig
}

// DefaultPolicy mirrors the defaults the upstream services were tuned with.
func DefaultPolicy() Policy {
	return Policy{
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			Multiplier:  2.0,
			MaxDelay:    60 * time.Second,
			Jitter:      true,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			OpenTimeout:      60 * time.Second,
		},
		Rate: RateConfig{
			Capacity:     5,
			RefillPerSec: 1,
			MaxWait:      2 * time.Second,
		},
	}
}

// Client wraps every outbound call with rate limiting, a per-service circuit
// breaker, and retry with exponential backoff. Distinct services never share
// breaker or limiter state: each gets its own entry in the registries,
// created on first use under the client's lock.
type Client struct {
	mu       sync.Mutex
	policies map[string]Policy
	fallback Policy
	breakers map[string]*Breaker
	limiter  *Limiter
	onShift  TransitionFunc

	sleep func(ctx context.Context, d time.Duration) bool
}

// Option configures Client.
type Option func(*Client)

// WithPolicy registers a per-service policy.
func WithPolicy(service string, p Policy) Option {
	return func(c *Client) { c.policies[service] = p }
}

// WithFallbackPolicy replaces the policy used by unregistered services.
func WithFallbackPolicy(p Policy) Option {
	return func(c *Client) { c.fallback = p }
}

// WithTransitionFunc observes breaker transitions across all services.
func WithTransitionFunc(fn TransitionFunc) Option {
	return func(c *Client) { c.onShift = fn }
}

// NewClient creates a resilient call wrapper.
func NewClient(opts ...Option) *Client {
	c := &Client{
		policies: make(map[string]Policy),
		fallback: DefaultPolicy(),
		breakers: make(map[string]*Breaker),
		limiter:  NewLimiter(),
		sleep: func(ctx context.Context, d time.Duration) bool {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(d):
				return true
			}
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do executes fn under the service's full protection stack. Errors returned
// by fn should be classified with Transient/Permanent; unclassified errors
// are treated as transient.
func (c *Client) Do(ctx context.Context, service, op string, fn func(ctx context.Context) error) error {
	pol := c.policy(service)
	br := c.breaker(service, pol.Breaker)

	if !c.limiter.Wait(ctx, service, pol.Rate.Capacity, pol.Rate.RefillPerSec, pol.Rate.MaxWait) {
		return rateLimited(service, op)
	}

	var lastErr error
	attempts := pol.Retry.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		if !br.Allow() {
			return circuitOpen(service, op)
		}

		err := fn(ctx)
		if err == nil {
			br.OnSuccess()
			return nil
		}
		lastErr = err

		if KindOf(err) == KindPermanent {
			// a malformed request says nothing about service health
			br.OnIgnore()
			return err
		}
		br.OnFailure()

		if attempt == attempts {
			break
		}
		if !c.sleep(ctx, c.backoff(pol.Retry, attempt)) {
			return Transient(service, op, ctx.Err())
		}
	}
	return lastErr
}

// BreakerState exposes the current breaker state for a service, creating the
// breaker if it does not exist yet.
func (c *Client) BreakerState(service string) BreakerState {
	return c.breaker(service, c.policy(service).Breaker).State()
}

// Services lists every service with breaker state so far.
func (c *Client) Services() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.breakers))
	for name := range c.breakers {
		out = append(out, name)
	}
	return out
}

func (c *Client) policy(service string) Policy {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.policies[service]; ok {
		return p
	}
	return c.fallback
}

func (c *Client) breaker(service string, cfg BreakerConfig) *Breaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.breakers[service]
	if !ok {
		b = NewBreaker(service, cfg, c.onShift)
		c.breakers[service] = b
	}
	return b
}

func (c *Client) backoff(cfg RetryConfig, attempt int) time.Duration {
	mult := cfg.Multiplier
	if mult <= 1 {
		mult = 2
	}
	d := float64(cfg.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= mult
	}
	if max := float64(cfg.MaxDelay); max > 0 && d > max {
		d = max
	}
	if cfg.Jitter {
		d *= 0.5 + rand.Float64()*0.5
	}
	return time.Duration(d)
}
