package graph

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// The engine never retries a failed node. Nodes that call external services wrap
// their function with these helpers to own their retry and timeout policy.

// RetryConfig configures retry behavior for nodes
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64

	// Jitter spreads each delay by up to ±Jitter of its length (0.25 = ±25%).
	Jitter float64

	// RetryableErrors determines if an error should trigger retry; nil retries all
	RetryableErrors func(error) bool
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

func nodeName(ctx context.Context) string {
	if info, ok := RunInfoFromContext(ctx); ok {
		return info.Node
	}
	return "node"
}

// WithRetry wraps fn so that failed attempts are retried with exponential backoff.
func WithRetry(fn NodeFunc, config *RetryConfig) NodeFunc {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return func(ctx context.Context, state State) (State, error) {
		var lastErr error
		delay := config.InitialDelay

		for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("retry cancelled: %w", ctx.Err())
			default:
			}

			result, err := fn(ctx, state)
			if err == nil {
				return result, nil
			}
			lastErr = err

			if config.RetryableErrors != nil && !config.RetryableErrors(err) {
				return nil, fmt.Errorf("non-retryable error in %s: %w", nodeName(ctx), err)
			}

			// Don't sleep after the last attempt
			if attempt < config.MaxAttempts {
				select {
				case <-time.After(jittered(delay, config.Jitter)):
					delay = min(time.Duration(float64(delay)*config.BackoffFactor), config.MaxDelay)
				case <-ctx.Done():
					return nil, fmt.Errorf("retry cancelled during backoff: %w", ctx.Err())
				}
			}
		}

		return nil, fmt.Errorf("max retries (%d) exceeded for %s: %w", config.MaxAttempts, nodeName(ctx), lastErr)
	}
}

func jittered(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return d
	}
	//nolint:gosec // jitter does not need a secure source
	return d + time.Duration(float64(d)*jitter*(2*rand.Float64()-1))
}

// WithTimeout wraps fn so that it fails once d has elapsed. fn receives a context
// cancelled at the deadline and should return promptly when it is.
func WithTimeout(fn NodeFunc, d time.Duration) NodeFunc {
	return func(ctx context.Context, state State) (State, error) {
		timeoutCtx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		type result struct {
			value State
			err   error
		}
		resultChan := make(chan result, 1)

		go func() {
			value, err := fn(timeoutCtx, state)
			resultChan <- result{value: value, err: err}
		}()

		select {
		case res := <-resultChan:
			return res.value, res.err
		case <-timeoutCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("node %s timed out after %v: %w", nodeName(ctx), d, context.DeadlineExceeded)
		}
	}
}

// CircuitBreakerConfig configures circuit breaker behavior
type CircuitBreakerConfig struct {
	FailureThreshold int           // Number of failures before opening
	SuccessThreshold int           // Number of successes before closing
	Timeout          time.Duration // Time before attempting to close
	HalfOpenMaxCalls int           // Max calls in half-open state
}

// CircuitBreakerState represents the state of a circuit breaker
type CircuitBreakerState int

const (
	CircuitClosed CircuitBreakerState = iota
	CircuitOpen
	CircuitHalfOpen
)

// DefaultCircuitBreakerConfig returns the settings used for unset fields.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Timeout:          30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// CircuitBreaker stops calling a failing collaborator until Timeout has passed.
// One breaker is shared by every thread running the wrapped node.
type CircuitBreaker struct {
	mu              sync.Mutex
	config          CircuitBreakerConfig
	state           CircuitBreakerState
	failures        int
	successes       int
	lastFailureTime time.Time

	// halfOpenCalls counts trial calls in flight; generation changes every
	// time the breaker turns half-open so late results of an earlier trial
	// are not counted against the current one.
	halfOpenCalls int
	generation    int
}

// NewCircuitBreaker creates a new circuit breaker. Non-positive fields of
// config take their value from DefaultCircuitBreakerConfig.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = def.SuccessThreshold
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	return &CircuitBreaker{
		config: config,
		state:  CircuitClosed,
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// allow admits a call and reports the half-open generation it belongs to, or
// -1 when the breaker was closed.
func (cb *CircuitBreaker) allow(name string) (int, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if time.Since(cb.lastFailureTime) <= cb.config.Timeout {
			return 0, fmt.Errorf("circuit breaker open for %s", name)
		}
		cb.state = CircuitHalfOpen
		cb.halfOpenCalls = 0
		cb.successes = 0
		cb.generation++
		fallthrough
	case CircuitHalfOpen:
		if cb.halfOpenCalls >= cb.config.HalfOpenMaxCalls {
			return 0, fmt.Errorf("circuit breaker half-open limit reached for %s", name)
		}
		cb.halfOpenCalls++
		return cb.generation, nil
	}
	return -1, nil
}

func (cb *CircuitBreaker) record(generation int, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	trial := cb.state == CircuitHalfOpen && generation == cb.generation
	if trial {
		cb.halfOpenCalls--
	}

	if err != nil {
		cb.failures++
		cb.successes = 0
		cb.lastFailureTime = time.Now()
		if trial || cb.failures >= cb.config.FailureThreshold {
			cb.state = CircuitOpen
		}
		return
	}

	cb.failures = 0
	if !trial {
		return
	}
	cb.successes++
	if cb.successes >= cb.config.SuccessThreshold {
		cb.state = CircuitClosed
		cb.successes = 0
	}
}

// Wrap returns fn guarded by the breaker.
func (cb *CircuitBreaker) Wrap(fn NodeFunc) NodeFunc {
	return func(ctx context.Context, state State) (State, error) {
		name := nodeName(ctx)
		generation, err := cb.allow(name)
		if err != nil {
			return nil, err
		}
		result, err := fn(ctx, state)
		cb.record(generation, err)
		if err != nil {
			return nil, fmt.Errorf("circuit breaker error in %s: %w", name, err)
		}
		return result, nil
	}
}

// NodePolicy bundles the failure handling of one node. Timeout bounds each
// attempt, Retry repeats failed attempts and Breaker sees the outcome after
// retries. Zero fields are skipped.
type NodePolicy struct {
	Retry   *RetryConfig
	Timeout time.Duration
	Breaker *CircuitBreaker
}

// IsZero reports whether the policy leaves a node unchanged.
func (p NodePolicy) IsZero() bool {
	return p.Retry == nil && p.Timeout <= 0 && p.Breaker == nil
}

// Wrap returns fn with the policy applied.
func (p NodePolicy) Wrap(fn NodeFunc) NodeFunc {
	if p.Timeout > 0 {
		fn = WithTimeout(fn, p.Timeout)
	}
	if p.Retry != nil {
		fn = WithRetry(fn, p.Retry)
	}
	if p.Breaker != nil {
		fn = p.Breaker.Wrap(fn)
	}
	return fn
}
