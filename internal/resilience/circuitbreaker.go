// Package resilience provides circuit breaker and provider failover primitives.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open) that
// stops calling a failing backend for a while. [FallbackGroup] tries a
// primary and its fallbacks in order, each behind its own breaker.
// [STTFallback] applies both to speech-to-text providers, including failures
// that only surface after a stream was opened.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// has passed.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successes close the breaker; any failure opens it again.
	StateHalfOpen
)

// String returns the human-readable name of the state.
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

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels log lines and state-change notifications.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of probe calls allowed while half-open.
	// Default: 3.
	HalfOpenMax int

	// OnStateChange, if set, is called after every transition. It runs with
	// the breaker unlocked but must not block.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	onChange     func(name string, from, to State)

	mu            sync.Mutex
	state         State
	failures      int
	openedAt      time.Time
	probes        int
	probeFailures int
}

// NewCircuitBreaker creates a [CircuitBreaker]. Zero-valued fields get the
// defaults documented on [CircuitBreakerConfig].
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		onChange:     cfg.OnStateChange,
	}
}

// Name returns the configured name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn if the breaker allows it and records the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	done, err := cb.Begin()
	if err != nil {
		return err
	}
	err = fn()
	done(err)
	return err
}

// Begin admits a call whose outcome is only known later, such as a stream
// that may fail after it was opened. The returned done must be called exactly
// once with the final result.
func (cb *CircuitBreaker) Begin() (done func(error), err error) {
	probe, err := cb.admit()
	if err != nil {
		return nil, err
	}
	return func(err error) { cb.record(err, probe) }, nil
}

// admit decides whether a call may proceed and whether it is a probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	var changed func()
	defer func() {
		cb.mu.Unlock()
		if changed != nil {
			changed()
		}
	}()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.openedAt) < cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		changed = cb.transition(StateHalfOpen)
		cb.probes, cb.probeFailures = 0, 0
	case StateHalfOpen:
		if cb.probes >= cb.halfOpenMax {
			return false, ErrCircuitOpen
		}
	}
	if cb.state == StateHalfOpen {
		cb.probes++
		return true, nil
	}
	return false, nil
}

func (cb *CircuitBreaker) record(err error, probe bool) {
	cb.mu.Lock()
	var changed func()
	defer func() {
		cb.mu.Unlock()
		if changed != nil {
			changed()
		}
	}()

	if err != nil {
		switch {
		case probe:
			cb.probeFailures++
			cb.failures = cb.maxFailures
			cb.openedAt = time.Now()
			changed = cb.transition(StateOpen)
		case cb.state == StateClosed:
			cb.failures++
			if cb.failures >= cb.maxFailures {
				cb.openedAt = time.Now()
				changed = cb.transition(StateOpen)
			}
		}
		return
	}

	if probe {
		if cb.state == StateHalfOpen && cb.probes-cb.probeFailures >= cb.halfOpenMax {
			cb.failures, cb.probes, cb.probeFailures = 0, 0, 0
			changed = cb.transition(StateClosed)
		}
		return
	}
	if cb.state == StateClosed {
		cb.failures = 0
	}
}

// transition moves to next and returns the notification to run once the
// lock is released, or nil. Must be called with cb.mu held.
func (cb *CircuitBreaker) transition(next State) func() {
	prev := cb.state
	if prev == next {
		return nil
	}
	cb.state = next
	if next == StateOpen {
		slog.Warn("resilience: circuit opened", "name", cb.name, "from", prev.String(), "failures", cb.failures)
	} else {
		slog.Info("resilience: circuit state changed", "name", cb.name, "from", prev.String(), "to", next.String())
	}
	if cb.onChange == nil {
		return nil
	}
	return func() { cb.onChange(cb.name, prev, next) }
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the
// next call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	changed := cb.transition(StateClosed)
	cb.failures, cb.probes, cb.probeFailures = 0, 0, 0
	cb.mu.Unlock()
	if changed != nil {
		changed()
	}
}
