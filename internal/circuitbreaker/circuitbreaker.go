package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Call while the circuit is open.
var ErrOpen = errors.New("circuit breaker open")

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// State is the circuit breaker state (Closed, Open, HalfOpen).
type State int

func (s State) String() string {
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

// Config holds circuit breaker parameters. Zero values take defaults in New.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	Component        string
	// IsFailure decides which errors count against the circuit. Defaults to any non-nil error.
	IsFailure     func(error) bool
	OnStateChange func(component string, from, to State)
	Now           func() time.Time
}

// CircuitBreaker opens after FailureThreshold consecutive failures, rejects calls until
// Timeout elapses, then lets probes through in half-open until SuccessThreshold succeed.
type CircuitBreaker struct {
	mu           sync.Mutex
	state        State
	failureCount int
	successCount int
	openedAt     time.Time
	cfg          Config
}

// New creates a CircuitBreaker with the given config.
func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{state: StateClosed, cfg: cfg}
}

// Call runs fn when the circuit allows it and records the outcome.
// Context cancellation by the caller is not counted as an upstream failure.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func() error) error {
	if err := cb.allow(); err != nil {
		return err
	}
	err := fn()
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}
	cb.record(err)
	return err
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	if cb.state != StateOpen {
		cb.mu.Unlock()
		return nil
	}
	if cb.cfg.Now().Sub(cb.openedAt) < cb.cfg.Timeout {
		cb.mu.Unlock()
		return ErrOpen
	}
	cb.successCount = 0
	notify := cb.transitionLocked(StateHalfOpen)
	cb.mu.Unlock()
	notify()
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	notify := func() {}
	if err != nil && cb.cfg.IsFailure(err) {
		cb.failureCount++
		if cb.state == StateHalfOpen || cb.failureCount >= cb.cfg.FailureThreshold {
			cb.openedAt = cb.cfg.Now()
			cb.failureCount = 0
			notify = cb.transitionLocked(StateOpen)
		}
	} else {
		cb.failureCount = 0
		if cb.state == StateHalfOpen {
			cb.successCount++
			if cb.successCount >= cb.cfg.SuccessThreshold {
				cb.successCount = 0
				notify = cb.transitionLocked(StateClosed)
			}
		}
	}
	cb.mu.Unlock()
	notify()
}

// transitionLocked changes state and returns the callback to run after unlocking.
func (cb *CircuitBreaker) transitionLocked(to State) func() {
	from := cb.state
	cb.state = to
	if from == to || cb.cfg.OnStateChange == nil {
		return func() {}
	}
	component := cb.cfg.Component
	return func() { cb.cfg.OnStateChange(component, from, to) }
}
