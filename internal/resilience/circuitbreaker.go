// Package resilience keeps remote providers from stalling a scheduling
// session. [CircuitBreaker] stops calling a backend that keeps failing so
// that extraction can drop to the local heuristic at once, and
// [FallbackGroup] fails over between configured backends of one kind.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/meetvoice/pkg/provider"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota
	// StateOpen rejects calls until the reset timeout has elapsed.
	StateOpen
	// StateHalfOpen lets a limited number of probe calls through.
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

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker]. Zero
// values select the defaults noted on each field.
type CircuitBreakerConfig struct {
	// Name labels log entries and state-change callbacks.
	Name string

	// MaxFailures is the run of consecutive failures that opens the
	// breaker. Default 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is both the number of probes admitted while half-open and
	// the number of successful probes needed to close again. Default 3.
	HalfOpenMax int

	// IsFailure decides whether an error counts against the backend.
	// Default [CountsAsFailure].
	IsFailure func(error) bool

	// OnStateChange, if set, is called after every transition. It runs with
	// the breaker locked and must not call back into it.
	OnStateChange func(name string, from, to State)

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// CountsAsFailure is the default failure classifier. Cancellations and
// empty results (the user sent silence, the backend is healthy) are not held
// against the backend.
func CountsAsFailure(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, provider.ErrEmptyResult):
		return false
	}
	return true
}

// CircuitBreaker is a closed/open/half-open breaker.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	isFailure    func(error) bool
	onChange     func(name string, from, to State)
	now          func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probes   int // admitted while half-open
	probeOK  int // successful probes while half-open
}

// NewCircuitBreaker returns a closed breaker configured by cfg.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  orDefault(cfg.MaxFailures, 5),
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  orDefault(cfg.HalfOpenMax, 3),
		isFailure:    cfg.IsFailure,
		onChange:     cfg.OnStateChange,
		now:          cfg.Clock,
	}
	if cb.resetTimeout <= 0 {
		cb.resetTimeout = 30 * time.Second
	}
	if cb.isFailure == nil {
		cb.isFailure = CountsAsFailure
	}
	if cb.now == nil {
		cb.now = time.Now
	}
	return cb
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Execute runs fn unless the breaker rejects the call with [ErrCircuitOpen].
// fn's error is returned unchanged.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(probe, err)
	return err
}

// admit decides whether a call may proceed and whether it is a probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		cb.probes, cb.probeOK = 0, 0
		cb.setLocked(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.halfOpenMax {
			return false, ErrCircuitOpen
		}
		cb.probes++
		return true, nil
	}
	return false, nil
}

// settle records the outcome of an admitted call.
func (cb *CircuitBreaker) settle(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case cb.isFailure(err):
		cb.failures++
		if probe || cb.failures >= cb.maxFailures {
			cb.openedAt = cb.now()
			cb.setLocked(StateOpen)
		}
	case err != nil:
		// Neutral outcome: a probe slot is handed back.
		if probe {
			cb.probes--
		}
	case probe:
		cb.probeOK++
		if cb.probeOK >= cb.halfOpenMax {
			cb.failures = 0
			cb.setLocked(StateClosed)
		}
	default:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) setLocked(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	switch to {
	case StateOpen:
		slog.Warn("circuit breaker opened", "name", cb.name, "from", from.String(), "consecutive_failures", cb.failures)
	default:
		slog.Info("circuit breaker state changed", "name", cb.name, "from", from.String(), "to", to.String())
	}
	if cb.onChange != nil {
		cb.onChange(cb.name, from, to)
	}
}

// State reports the current state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the breaker and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures, cb.probes, cb.probeOK = 0, 0, 0
	cb.setLocked(StateClosed)
}
