package reconnect

import (
	"sync"
	"time"

	"github.com/zenmesh/transport/pkg/types"
)

// CircuitBreaker implements the standard Closed -> Open -> HalfOpen -> Closed
// state machine for a single peer's reconnection attempts. It opens after a
// configured number of consecutive failures, stays open for a cooldown
// period, then moves to HalfOpen, where RecordSuccess closes it again and
// RecordFailure reopens it.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	cooldown         time.Duration

	state           types.CircuitState
	consecutiveFail int
	openedAt        time.Time
}

// NewCircuitBreaker constructs a breaker with the given failure threshold and
// cooldown. A non-positive threshold is treated as 1.
func NewCircuitBreaker(failureThreshold int, cooldown time.Duration) *CircuitBreaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		state:            types.CircuitClosed,
	}
}

// Allow reports whether an attempt should proceed. It transitions Open ->
// HalfOpen once the cooldown has elapsed. While HalfOpen it returns true on
// every call until RecordSuccess or RecordFailure settles the state; it does
// not limit HalfOpen to a single attempt.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case types.CircuitClosed:
		return true
	case types.CircuitHalfOpen:
		return true
	case types.CircuitOpen:
		if time.Since(cb.openedAt) >= cb.cooldown {
			cb.state = types.CircuitHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess closes the breaker and resets the failure streak.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFail = 0
	cb.state = types.CircuitClosed
}

// RecordFailure increments the failure streak, tripping the breaker open once
// the threshold is reached. A failure while HalfOpen re-opens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == types.CircuitHalfOpen {
		cb.trip()
		return
	}

	cb.consecutiveFail++
	if cb.consecutiveFail >= cb.failureThreshold {
		cb.trip()
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = types.CircuitOpen
	cb.openedAt = time.Now()
}

// State returns the current breaker state without side effects (it does not
// perform the Open -> HalfOpen cooldown check that Allow does).
func (cb *CircuitBreaker) State() types.CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker back to Closed, clearing the failure streak.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFail = 0
	cb.state = types.CircuitClosed
}
