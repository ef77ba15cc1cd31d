package redis

import (
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = 0 // calls pass through
	StateOpen     State = 1 // calls rejected until the cool-down elapses
	StateHalfOpen State = 2 // one probe call allowed
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

// ErrCircuitOpen is returned when the circuit breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker stops hammering Redis after repeated publish failures.
// After maxFailures consecutive failures it opens for coolDown, then lets a
// single probe through; the probe's outcome closes or reopens it.
type CircuitBreaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	maxFailures int
	coolDown    time.Duration
	openedAt    time.Time
	probing     bool
	now         func() time.Time

	// OnStateChange is called (under the breaker's lock) on every transition.
	OnStateChange func(from, to State)
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(maxFailures int, coolDown time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		maxFailures: maxFailures,
		coolDown:    coolDown,
		now:         time.Now,
	}
}

// Execute runs fn unless the breaker is open. fn's error is returned as is.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.allow(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) <= cb.coolDown {
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		cb.probing = true
	case StateHalfOpen:
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.probing = false
		if err != nil {
			cb.trip()
		} else {
			cb.transition(StateClosed)
		}
		return
	}

	if err == nil {
		cb.failures = 0
		return
	}
	cb.failures++
	if cb.failures >= cb.maxFailures {
		cb.trip()
	}
}

func (cb *CircuitBreaker) trip() {
	cb.openedAt = cb.now()
	cb.transition(StateOpen)
}

// CurrentState returns the current circuit breaker state.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if to == StateClosed {
		cb.failures = 0
	}
	if cb.OnStateChange != nil {
		cb.OnStateChange(from, to)
	}
}
