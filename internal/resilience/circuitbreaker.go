// Package resilience provides circuit breaker and provider failover primitives
// for the generation backends.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open) that
// stops hammering a backend that keeps failing. [FallbackGroup] composes
// several instances of one provider type, each behind its own breaker, so a
// failing primary is bypassed in favour of the next healthy backend.
// [SpeechFallback] and [VideoFallback] expose a group as a tts.Provider or
// video.Provider.
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
// refuses calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// has passed since the breaker tripped.
	StateOpen

	// StateHalfOpen admits a bounded number of probe calls. Enough successful
	// probes close the breaker; a single failed probe trips it again.
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

// Breaker defaults applied by [NewCircuitBreaker].
const (
	DefaultMaxFailures  = 5
	DefaultResetTimeout = 30 * time.Second
	DefaultProbes       = 3
)

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero values select the
// package defaults.
type CircuitBreakerConfig struct {
	// Name labels the breaker in log lines; usually the backend name.
	Name string

	// MaxFailures is the run of consecutive failures that trips the breaker.
	MaxFailures int

	// ResetTimeout is how long a tripped breaker stays open.
	ResetTimeout time.Duration

	// Probes is both the number of calls admitted while half-open and the
	// number of successes among them needed to close again.
	Probes int

	// Ignore reports errors that say nothing about backend health (empty
	// input, cancelled requests). They are returned unchanged and neither
	// trip nor reset the breaker. Nil counts every error as a failure.
	Ignore func(error) bool

	now func() time.Time
}

// CircuitBreaker guards calls to one backend.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	state    State
	failures int       // consecutive, while closed
	openedAt time.Time // last trip
	admitted int       // probes let through this half-open round
	passed   int       // probes that succeeded this half-open round
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultResetTimeout
	}
	if cfg.Probes <= 0 {
		cfg.Probes = DefaultProbes
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return &CircuitBreaker{cfg: cfg}
}

// Execute calls fn unless the breaker is open or out of probes, in which case
// it returns [ErrCircuitOpen]. fn's error is returned unchanged.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(probe, err)
	return err
}

// admit decides whether a call may proceed and whether it counts as a probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.cfg.now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return false, ErrCircuitOpen
		}
		cb.moveTo(StateHalfOpen)
	}
	if cb.state != StateHalfOpen {
		return false, nil
	}
	if cb.admitted >= cb.cfg.Probes {
		return false, ErrCircuitOpen
	}
	cb.admitted++
	return true, nil
}

// settle books the outcome of an admitted call.
func (cb *CircuitBreaker) settle(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case err != nil && cb.cfg.Ignore != nil && cb.cfg.Ignore(err):
		if probe && cb.state == StateHalfOpen {
			cb.admitted--
		}
	case err != nil:
		cb.failures++
		if probe || cb.failures >= cb.cfg.MaxFailures {
			cb.moveTo(StateOpen)
		}
	case probe:
		if cb.state != StateHalfOpen {
			return
		}
		cb.passed++
		if cb.passed >= cb.cfg.Probes {
			cb.moveTo(StateClosed)
		}
	default:
		cb.failures = 0
	}
}

// moveTo switches state and clears the per-state counters. Tripping an
// already open breaker restarts its reset timeout. Must be called with cb.mu
// held.
func (cb *CircuitBreaker) moveTo(to State) {
	from := cb.state
	cb.state = to
	cb.admitted, cb.passed = 0, 0
	switch to {
	case StateOpen:
		cb.openedAt = cb.cfg.now()
	case StateClosed:
		cb.failures = 0
	}
	if from == to {
		return
	}
	if to == StateOpen {
		slog.Warn("circuit breaker opened", "name", cb.cfg.Name, "from", from, "failures", cb.failures)
		return
	}
	slog.Info("circuit breaker state changed", "name", cb.cfg.Name, "from", from, "to", to)
}

// State returns the breaker's state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the switch itself happens on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.cfg.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the breaker and forgets past failures.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.moveTo(StateClosed)
}
