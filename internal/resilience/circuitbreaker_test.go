package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/meetvoice/pkg/provider"
)

var errTest = errors.New("test error")

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// transitions records OnStateChange calls.
type transitions struct {
	mu  sync.Mutex
	got []string
}

func (tr *transitions) record(name string, from, to State) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.got = append(tr.got, fmt.Sprintf("%s:%s->%s", name, from, to))
}

func (tr *transitions) list() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.got...)
}

func newTestBreaker(clock *fakeClock, tr *transitions, maxFailures, halfOpenMax int) *CircuitBreaker {
	cfg := CircuitBreakerConfig{
		Name:         "extraction",
		MaxFailures:  maxFailures,
		ResetTimeout: time.Minute,
		HalfOpenMax:  halfOpenMax,
		Clock:        clock.Now,
	}
	if tr != nil {
		cfg.OnStateChange = tr.record
	}
	return NewCircuitBreaker(cfg)
}

func fail() error    { return errTest }
func succeed() error { return nil }

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test"})
	if cb.maxFailures != 5 || cb.resetTimeout != 30*time.Second || cb.halfOpenMax != 3 {
		t.Errorf("defaults = %d/%v/%d, want 5/30s/3", cb.maxFailures, cb.resetTimeout, cb.halfOpenMax)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	cb := newTestBreaker(clock, nil, 3, 1)

	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	_ = cb.Execute(succeed) // resets the run
	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after an interrupted run", cb.State())
	}

	if err := cb.Execute(fail); !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want the call's own error", err)
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Errorf("open breaker: err = %v, called = %v", err, called)
	}
}

func TestCircuitBreaker_HalfOpenCloses(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	tr := &transitions{}
	cb := newTestBreaker(clock, tr, 1, 2)

	_ = cb.Execute(fail)
	clock.Advance(59 * time.Second)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v before the reset timeout, want open", cb.State())
	}
	clock.Advance(time.Second)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v after the reset timeout, want half-open", cb.State())
	}

	if err := cb.Execute(succeed); err != nil {
		t.Fatalf("first probe: %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Errorf("state = %v after one of two probes, want half-open", cb.State())
	}
	if err := cb.Execute(succeed); err != nil {
		t.Fatalf("second probe: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}

	want := []string{
		"extraction:closed->open",
		"extraction:open->half-open",
		"extraction:half-open->closed",
	}
	got := tr.list()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	cb := newTestBreaker(clock, nil, 1, 3)

	_ = cb.Execute(fail)
	clock.Advance(time.Minute)
	_ = cb.Execute(fail)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v after a failed probe, want open", cb.State())
	}
	// The reset timeout restarts from the failed probe.
	clock.Advance(30 * time.Second)
	if err := cb.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_ProbeBudget(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	cb := newTestBreaker(clock, nil, 1, 1)
	_ = cb.Execute(fail)
	clock.Advance(time.Minute)

	release := make(chan struct{})
	done := make(chan error, 1)
	entered := make(chan struct{})
	go func() {
		done <- cb.Execute(func() error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	if err := cb.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe while the first is in flight: err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_NeutralErrors(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	cb := newTestBreaker(clock, nil, 1, 1)

	for _, err := range []error{context.Canceled, provider.ErrEmptyResult, fmt.Errorf("stt: %w", provider.ErrEmptyResult)} {
		if got := cb.Execute(func() error { return err }); !errors.Is(got, err) {
			t.Errorf("Execute returned %v, want %v", got, err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, neutral errors must not trip the breaker", cb.State())
	}

	// A neutral probe hands its slot back.
	_ = cb.Execute(fail)
	clock.Advance(time.Minute)
	_ = cb.Execute(func() error { return context.Canceled })
	if err := cb.Execute(succeed); err != nil {
		t.Errorf("probe after a neutral probe: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_CustomClassifier(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures: 1,
		IsFailure:   func(err error) bool { return errors.Is(err, provider.ErrRateLimited) },
	})
	_ = cb.Execute(fail)
	if cb.State() != StateClosed {
		t.Fatal("unclassified error tripped the breaker")
	}
	_ = cb.Execute(func() error { return provider.ErrRateLimited })
	if cb.State() != StateOpen {
		t.Errorf("state = %v, want open", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()
	tr := &transitions{}
	cb := newTestBreaker(newFakeClock(), tr, 1, 1)
	_ = cb.Execute(fail)
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v after Reset, want closed", cb.State())
	}
	if err := cb.Execute(succeed); err != nil {
		t.Errorf("Execute after Reset: %v", err)
	}
	cb.Reset() // already closed: no transition
	if got := tr.list(); len(got) != 2 {
		t.Errorf("transitions = %v, want open then closed", got)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	for s, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(42):     "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
