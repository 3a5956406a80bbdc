package resilience

import (
	"sync"
	"time"
)

// State is the breaker position.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}

// Breaker protects one external resource from repeated futile calls.
// Reopening is lazy: the cooldown check happens on Allow, never in a
// background timer, so behavior is a pure function of the injected clock.
type Breaker struct {
	mu          sync.Mutex
	maxFailures int
	timeout     time.Duration
	failures    int
	lastFailure time.Time
	state       State
	now         func() time.Time
}

// New returns a closed breaker that opens after maxFailures consecutive
// failures and stays open for timeout before letting a probe through.
func New(maxFailures int, timeout time.Duration) *Breaker {
	return &Breaker{
		maxFailures: maxFailures,
		timeout:     timeout,
		now:         time.Now,
	}
}

// Allow reports whether a call may proceed. An open breaker whose cooldown
// has elapsed moves to half-open and admits the current caller only; there
// is no queueing of waiters.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open {
		if b.now().Sub(b.lastFailure) > b.timeout {
			b.state = HalfOpen
			return true
		}
		return false
	}
	return true
}

// OnSuccess closes the breaker and zeroes the failure counter.
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	b.state = Closed
	b.failures = 0
	b.mu.Unlock()
}

// OnFailure records a failure. Reaching maxFailures opens the breaker; a
// failure in half-open reopens it and restarts the cooldown.
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	b.failures++
	b.lastFailure = b.now()
	if b.failures >= b.maxFailures {
		b.state = Open
	}
	b.mu.Unlock()
}

// State returns the current position of the breaker.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
