package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed means no backend in a [FallbackGroup] produced a result. The
// last backend's error is wrapped alongside it, so provider sentinels still
// match with errors.Is.
var ErrAllFailed = errors.New("resilience: all backends failed")

// FallbackConfig holds the breaker settings applied to every backend of a
// [FallbackGroup]. CircuitBreaker.Name is replaced by the backend name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type backend[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup is an ordered list of interchangeable backends, each guarded
// by its own [CircuitBreaker]. Calls go to the first backend whose breaker
// admits them; a counted failure moves on to the next one. A neutral error
// such as silence or cancellation ends the attempt right away.
type FallbackGroup[T any] struct {
	cfg      FallbackConfig
	backends []backend[T]
}

// NewFallbackGroup starts a group with primary as its first backend.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a backend. Groups are assembled during wiring; calling
// AddFallback concurrently with Execute is a data race.
func (fg *FallbackGroup[T]) AddFallback(name string, value T) {
	bc := fg.cfg.CircuitBreaker
	bc.Name = name
	fg.backends = append(fg.backends, backend[T]{name: name, value: value, breaker: NewCircuitBreaker(bc)})
}

// Names returns the backend names in call order.
func (fg *FallbackGroup[T]) Names() []string {
	out := make([]string, 0, len(fg.backends))
	for _, b := range fg.backends {
		out = append(out, b.name)
	}
	return out
}

// States snapshots every backend's breaker.
func (fg *FallbackGroup[T]) States() map[string]State {
	out := make(map[string]State, len(fg.backends))
	for _, b := range fg.backends {
		out[b.name] = b.breaker.State()
	}
	return out
}

// Execute is [ExecuteWithResult] for calls without a result value.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult calls fn with each backend in turn and returns the first
// successful result.
func ExecuteWithResult[T, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range fg.backends {
		b := &fg.backends[i]
		var out R
		err := b.breaker.Execute(func() (err error) {
			out, err = fn(b.value)
			return err
		})
		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("backend skipped, circuit open", "backend", b.name)
		case !b.breaker.isFailure(err):
			return zero, err
		default:
			slog.Warn("backend failed, failing over", "backend", b.name, "err", err)
		}
		lastErr = err
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
