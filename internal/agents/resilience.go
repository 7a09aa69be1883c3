package agents

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// RetryConfig configures exponential backoff retry behavior for
// backend queries.
type RetryConfig struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	MaxElapsedTime      time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      2 * time.Minute,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// BreakerRegistry manages per-backend circuit breakers keyed by the
// backend command name.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerRegistry creates an empty registry.
func NewBreakerRegistry() *BreakerRegistry {
	return &BreakerRegistry{breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

// Get returns the circuit breaker for the named backend, creating it
// on first use.
func (r *BreakerRegistry) Get(name string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %q: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			// User cancellation is not a backend failure.
			if err == nil {
				return true
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return false
		},
	})

	r.breakers[name] = cb
	return cb
}

// ResilientBackend wraps a Backend with exponential backoff retry and
// circuit breaker protection.
type ResilientBackend struct {
	inner    Backend
	breaker  *gobreaker.CircuitBreaker
	retryCfg RetryConfig
}

// NewResilientBackend wraps inner with the given breaker and retry
// policy.
func NewResilientBackend(inner Backend, breaker *gobreaker.CircuitBreaker, retryCfg RetryConfig) *ResilientBackend {
	return &ResilientBackend{inner: inner, breaker: breaker, retryCfg: retryCfg}
}

func (b *ResilientBackend) Query(ctx context.Context, system, user string) (string, error) {
	var resp string

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		result, err := b.breaker.Execute(func() (interface{}, error) {
			return b.inner.Query(ctx, system, user)
		})
		if err != nil {
			// An open circuit will not recover within a retry loop.
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}

		resp = result.(string)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = b.retryCfg.InitialInterval
	policy.MaxInterval = b.retryCfg.MaxInterval
	policy.MaxElapsedTime = b.retryCfg.MaxElapsedTime
	policy.Multiplier = b.retryCfg.Multiplier
	policy.RandomizationFactor = b.retryCfg.RandomizationFactor

	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	return resp, err
}

func (b *ResilientBackend) Close() error {
	return b.inner.Close()
}
