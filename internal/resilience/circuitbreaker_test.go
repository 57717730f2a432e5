package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var errTest = errors.New("test error")

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Unix(1_700_000_000, 0)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(c *clock, cfg CircuitBreakerConfig) *CircuitBreaker {
	cfg.Name = "test"
	cfg.now = c.Now
	return NewCircuitBreaker(cfg)
}

func fail() error    { return errTest }
func succeed() error { return nil }

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	if cb.cfg.MaxFailures != DefaultMaxFailures || cb.cfg.ResetTimeout != DefaultResetTimeout || cb.cfg.Probes != DefaultProbes {
		t.Errorf("defaults not applied: %+v", cb.cfg)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		results []func() error
		want    State
	}{
		{"below threshold", []func() error{fail, fail}, StateClosed},
		{"at threshold", []func() error{fail, fail, fail}, StateOpen},
		{"success breaks the run", []func() error{fail, fail, succeed, fail, fail}, StateClosed},
		{"run after success", []func() error{fail, succeed, fail, fail, fail}, StateOpen},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cb := newTestBreaker(newClock(), CircuitBreakerConfig{MaxFailures: 3})
			for _, fn := range tc.results {
				_ = cb.Execute(fn)
			}
			if got := cb.State(); got != tc.want {
				t.Errorf("state = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCircuitBreaker_OpenRejectsWithoutCalling(t *testing.T) {
	t.Parallel()

	cb := newTestBreaker(newClock(), CircuitBreakerConfig{MaxFailures: 1})
	_ = cb.Execute(fail)

	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn called while open")
	}
}

func TestCircuitBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	t.Parallel()

	c := newClock()
	cb := newTestBreaker(c, CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Minute})
	_ = cb.Execute(fail)

	c.Advance(59 * time.Second)
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state before timeout = %v, want open", got)
	}
	c.Advance(time.Second)
	if got := cb.State(); got != StateHalfOpen {
		t.Fatalf("state after timeout = %v, want half-open", got)
	}
}

func TestCircuitBreaker_ProbesCloseTheBreaker(t *testing.T) {
	t.Parallel()

	c := newClock()
	cb := newTestBreaker(c, CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Minute, Probes: 2})
	_ = cb.Execute(fail)
	c.Advance(time.Minute)

	if err := cb.Execute(succeed); err != nil {
		t.Fatalf("first probe: %v", err)
	}
	if got := cb.State(); got != StateHalfOpen {
		t.Fatalf("state after one probe = %v, want half-open", got)
	}
	if err := cb.Execute(succeed); err != nil {
		t.Fatalf("second probe: %v", err)
	}
	if got := cb.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed", got)
	}
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	t.Parallel()

	c := newClock()
	cb := newTestBreaker(c, CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: time.Minute})
	for range 3 {
		_ = cb.Execute(fail)
	}
	c.Advance(time.Minute)

	if err := cb.Execute(fail); !errors.Is(err, errTest) {
		t.Fatalf("probe err = %v, want errTest", err)
	}
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}
	// The reset timeout restarts from the failed probe.
	c.Advance(30 * time.Second)
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state 30s after probe = %v, want open", got)
	}
}

func TestCircuitBreaker_ProbeBudget(t *testing.T) {
	t.Parallel()

	c := newClock()
	cb := newTestBreaker(c, CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Minute, Probes: 1})
	_ = cb.Execute(fail)
	c.Advance(time.Minute)

	// The single probe is still in flight when the second call arrives.
	release := make(chan struct{})
	done := make(chan error, 1)
	inFlight := make(chan struct{})
	go func() {
		done <- cb.Execute(func() error {
			close(inFlight)
			<-release
			return nil
		})
	}()
	<-inFlight

	if err := cb.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second call err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe: %v", err)
	}
	if got := cb.State(); got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()

	cb := newTestBreaker(newClock(), CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})
	_ = cb.Execute(fail)
	_ = cb.Execute(fail)

	cb.Reset()
	if got := cb.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed", got)
	}
	// The failure run starts over.
	_ = cb.Execute(fail)
	if got := cb.State(); got != StateClosed {
		t.Fatalf("state after one failure = %v, want closed", got)
	}
}

func TestCircuitBreaker_IgnoredErrorsDoNotTrip(t *testing.T) {
	t.Parallel()

	errIgnored := errors.New("ignored")
	ignored := func() error { return errIgnored }
	cb := newTestBreaker(newClock(), CircuitBreakerConfig{
		MaxFailures: 2,
		Ignore:      func(err error) bool { return errors.Is(err, errIgnored) },
	})

	for range 5 {
		if err := cb.Execute(ignored); !errors.Is(err, errIgnored) {
			t.Fatalf("err = %v, want errIgnored", err)
		}
	}
	if got := cb.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed after ignored errors", got)
	}

	_ = cb.Execute(fail)
	_ = cb.Execute(ignored)
	_ = cb.Execute(fail)
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state = %v, want open: ignored errors must not break the run", got)
	}
}

func TestCircuitBreaker_IgnoredProbeReturnsBudget(t *testing.T) {
	t.Parallel()

	errIgnored := errors.New("ignored")
	c := newClock()
	cb := newTestBreaker(c, CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: time.Minute,
		Probes:       1,
		Ignore:       func(err error) bool { return errors.Is(err, errIgnored) },
	})
	_ = cb.Execute(fail)
	c.Advance(time.Minute)

	_ = cb.Execute(func() error { return errIgnored })
	if err := cb.Execute(succeed); err != nil {
		t.Fatalf("probe after ignored error: %v", err)
	}
	if got := cb.State(); got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
