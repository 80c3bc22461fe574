package orders

import (
	"context"
	"errors"
	"sync"
	"time"

	"storefront/internal/callback"
)

// ErrCircuitOpen indicates the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	MaxFailures  int
	ResetTimeout time.Duration
	Now          func() time.Time
}

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

// CircuitBreaker rejects calls after MaxFailures consecutive failures until
// ResetTimeout elapses, then lets one trial call through.
type CircuitBreaker struct {
	mu         sync.Mutex
	maxFails   int
	resetAfter time.Duration
	now        func() time.Time

	state          circuitState
	failures       int
	openedAt       time.Time
	halfOpenFlight bool
}

// NewCircuitBreaker applies defaults of one failure and a 2s reset.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	maxFails := cfg.MaxFailures
	if maxFails < 1 {
		maxFails = 1
	}
	resetAfter := cfg.ResetTimeout
	if resetAfter <= 0 {
		resetAfter = 2 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &CircuitBreaker{
		maxFails:   maxFails,
		resetAfter: resetAfter,
		now:        now,
	}
}

// Execute runs fn unless the breaker is open. A nil breaker always runs fn.
func (c *CircuitBreaker) Execute(fn func() error) error {
	if c == nil {
		return fn()
	}
	if err := c.admit(); err != nil {
		return err
	}
	err := fn()
	c.settle(err)
	return err
}

func (c *CircuitBreaker) admit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case circuitOpen:
		if c.now().Sub(c.openedAt) < c.resetAfter {
			return ErrCircuitOpen
		}
		c.state = circuitHalfOpen
		c.halfOpenFlight = true
	case circuitHalfOpen:
		if c.halfOpenFlight {
			return ErrCircuitOpen
		}
		c.halfOpenFlight = true
	}
	return nil
}

func (c *CircuitBreaker) settle(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	trial := c.state == circuitHalfOpen
	c.halfOpenFlight = false

	switch {
	case err == nil:
		c.state = circuitClosed
		c.failures = 0
	case trial:
		c.state = circuitOpen
		c.openedAt = c.now()
		c.failures = 0
	default:
		c.failures++
		if c.failures >= c.maxFails {
			c.state = circuitOpen
			c.openedAt = c.now()
		}
	}
}

// RateLimiter is a token-bucket limiter.
type RateLimiter struct {
	mu     sync.Mutex
	rate   time.Duration
	burst  int
	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
	onWait func(time.Duration)

	tokens int
	last   time.Time
}

// NewRateLimiter refills one token every rate, up to burst.
func NewRateLimiter(rate time.Duration, burst int) *RateLimiter {
	limiter := &RateLimiter{
		rate:  rate,
		burst: burst,
		now:   time.Now,
		sleep: sleepWithContext,
	}
	limiter.tokens = burst
	limiter.last = limiter.now()
	return limiter
}

// OnWait registers a hook called with each delay before the limiter sleeps.
func (r *RateLimiter) OnWait(fn func(time.Duration)) *RateLimiter {
	r.onWait = fn
	return r
}

// Wait blocks until a token is available or ctx ends. A nil or
// unconfigured limiter never blocks.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil || r.rate <= 0 || r.burst <= 0 {
		return ctx.Err()
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.mu.Lock()
		now := r.now()
		r.refill(now)
		if r.tokens > 0 {
			r.tokens--
			r.mu.Unlock()
			return nil
		}
		wait := r.rate - now.Sub(r.last)
		r.mu.Unlock()
		if wait <= 0 {
			continue
		}
		if r.onWait != nil {
			r.onWait(wait)
		}
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (r *RateLimiter) refill(now time.Time) {
	elapsed := now.Sub(r.last)
	if elapsed < r.rate {
		return
	}
	add := int(elapsed / r.rate)
	r.tokens += add
	if r.tokens > r.burst {
		r.tokens = r.burst
	}
	r.last = r.last.Add(time.Duration(add) * r.rate)
}

// ReliableBackend guards a BackendClient with a limiter and a breaker.
// It makes exactly one attempt per call.
type ReliableBackend struct {
	base    BackendClient
	limiter *RateLimiter
	breaker *CircuitBreaker
}

// NewReliableBackend wraps base; limiter and breaker may be nil.
func NewReliableBackend(base BackendClient, limiter *RateLimiter, breaker *CircuitBreaker) *ReliableBackend {
	return &ReliableBackend{
		base:    base,
		limiter: limiter,
		breaker: breaker,
	}
}

func (c *ReliableBackend) Finalize(ctx context.Context, p callback.Payload) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	var status int
	err := c.breaker.Execute(func() error {
		var err error
		status, err = c.base.Finalize(ctx, p)
		return err
	})
	return status, err
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
