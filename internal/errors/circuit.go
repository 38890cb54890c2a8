package errors

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Guard while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker state as seen by callers.
type State int

const (
	StateClosed State = iota
	StateOpen
	// StateHalfOpen means the reset window has passed and the next call
	// decides whether the breaker closes.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker stops calling a dependency after maxFailures consecutive
// failures. Once resetTimeout has passed a single trial call is admitted;
// its outcome closes or reopens the breaker.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration

	mu       sync.Mutex
	failures int
	open     bool
	openedAt time.Time
	trial    bool
}

// CircuitBreakerOption configures a CircuitBreaker.
type CircuitBreakerOption func(*CircuitBreaker)

// WithMaxFailures sets the consecutive failures that open the breaker.
func WithMaxFailures(n int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.maxFailures = n }
}

// WithResetTimeout sets how long the breaker stays open.
func WithResetTimeout(d time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.resetTimeout = d }
}

// NewCircuitBreaker returns a closed breaker. Defaults: 5 failures, 30s.
func NewCircuitBreaker(name string, opts ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{name: name, maxFailures: 5, resetTimeout: 30 * time.Second}
	for _, opt := range opts {
		opt(cb)
	}
	if cb.maxFailures < 1 {
		cb.maxFailures = 1
	}
	return cb
}

// State reports the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch {
	case !cb.open:
		return StateClosed
	case cb.trial || time.Since(cb.openedAt) >= cb.resetTimeout:
		return StateHalfOpen
	default:
		return StateOpen
	}
}

// Guard calls fn unless cb is open. A cancelled caller does not count as a
// dependency failure.
func Guard[T any](cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	if !cb.admit() {
		var zero T
		return zero, ErrCircuitOpen
	}
	v, err := fn()
	cb.settle(err)
	return v, err
}

func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if !cb.open {
		return true
	}
	if cb.trial || time.Since(cb.openedAt) < cb.resetTimeout {
		return false
	}
	cb.trial = true
	return true
}

func (cb *CircuitBreaker) settle(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	wasTrial := cb.trial
	cb.trial = false
	switch {
	case err == nil:
		if cb.open {
			slog.Info("circuit_closed", slog.String("name", cb.name))
		}
		cb.failures = 0
		cb.open = false
	case errors.Is(err, context.Canceled):
		// the caller gave up; a cancelled trial leaves the window elapsed
	default:
		cb.failures++
		if wasTrial || (!cb.open && cb.failures >= cb.maxFailures) {
			cb.open = true
			cb.openedAt = time.Now()
			slog.Warn("circuit_opened",
				slog.String("name", cb.name),
				slog.Int("failures", cb.failures),
				slog.String("error", err.Error()))
		}
	}
}
