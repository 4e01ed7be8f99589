// Package retry implements explicit result values at error boundaries
// plus a decorator that wraps an operation with a retry-plus-breaker
// policy, in place of exception-based retry/circuit-breaking. The
// breaker itself is github.com/sony/gobreaker.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/sony/gobreaker"

	"github.com/National-Digital-Twin/federator-go/internal/ferrors"
)

// Policy configures exponential-backoff-with-jitter retries.
type Policy struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxBackoff  time.Duration
	Exponential float64
}

// CircuitBreakerConfig configures the wrapped gobreaker.CircuitBreaker.
type CircuitBreakerConfig struct {
	Name                    string
	FailureRateThreshold    float64
	MinimumCalls            int
	WaitDurationInOpenState time.Duration
	PermittedHalfOpenCalls  uint32
}

// Decorator wraps a fallible operation with a shared retry policy and a
// circuit breaker, as used by the Credential Broker and the Streaming
// Conductor. The breaker is one per Decorator: every operation run
// through the same Decorator, whatever its operationName, counts toward
// and is blocked by the same breaker.
type Decorator struct {
	policy  Policy
	breaker *gobreaker.CircuitBreaker
}

// NewDecorator builds a Decorator. A nil *CircuitBreakerConfig disables
// breaking (retries still apply) -- used by components that do not need
// one.
func NewDecorator(policy Policy, cb *CircuitBreakerConfig) *Decorator {
	d := &Decorator{policy: policy}
	if cb != nil {
		settings := gobreaker.Settings{
			Name:        cb.Name,
			MaxRequests: cb.PermittedHalfOpenCalls,
			Timeout:     cb.WaitDurationInOpenState,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < uint32(cb.MinimumCalls) {
					return false
				}
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return failureRatio >= cb.FailureRateThreshold
			},
		}
		d.breaker = gobreaker.NewCircuitBreaker(settings)
	}
	return d
}

// State reports the breaker's current state as the 0/1/2 gauge value used
// by internal/metrics.CircuitBreakerState (closed/half-open/open).
func (d *Decorator) State() int {
	if d.breaker == nil {
		return 0
	}
	switch d.breaker.State() {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// Classifier decides whether an error is transient (retry) or terminal
// (stop retrying and surface immediately).
type Classifier func(error) (transient bool)

// DefaultClassifier treats *ferrors.TransportError and
// *ferrors.TokenFetchError as transient and everything else as terminal.
func DefaultClassifier(err error) bool {
	var transportErr *ferrors.TransportError
	var tokenErr *ferrors.TokenFetchError
	return errors.As(err, &transportErr) || errors.As(err, &tokenErr)
}

// Do runs op, retrying transient failures per the policy and short-
// circuiting through the breaker when configured. It returns
// *ferrors.CircuitOpenError immediately if the breaker is open.
func (d *Decorator) Do(ctx context.Context, operationName string, classify Classifier, op func(ctx context.Context) error) error {
	if classify == nil {
		classify = DefaultClassifier
	}

	var lastErr error
	for attempt := 0; attempt < d.maxAttempts(); attempt++ {
		if attempt > 0 {
			wait := d.backoff(attempt)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		var err error
		if d.breaker != nil {
			_, err = d.breaker.Execute(func() (interface{}, error) {
				return nil, op(ctx)
			})
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return &ferrors.CircuitOpenError{Operation: operationName}
			}
		} else {
			err = op(ctx)
		}

		if err == nil {
			return nil
		}
		lastErr = err

		if !classify(err) {
			return err
		}
	}
	return lastErr
}

func (d *Decorator) maxAttempts() int {
	if d.policy.MaxAttempts <= 0 {
		return 1
	}
	return d.policy.MaxAttempts
}

// backoff computes the exponential-with-jitter wait before the given
// attempt (1-indexed retry count), capped at MaxBackoff.
func (d *Decorator) backoff(attempt int) time.Duration {
	base := float64(d.policy.InitialWait)
	exp := d.policy.Exponential
	if exp <= 0 {
		exp = 2.0
	}
	wait := base * math.Pow(exp, float64(attempt-1))
	maxBackoff := float64(d.policy.MaxBackoff)
	if maxBackoff > 0 && wait > maxBackoff {
		wait = maxBackoff
	}
	// Full jitter: uniform in [0, wait].
	jittered := time.Duration(rand.Float64() * wait)
	return jittered
}
