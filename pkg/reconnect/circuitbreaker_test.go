package reconnect

import (
	"testing"
	"time"

	"github.com/zenmesh/transport/pkg/types"
)

func TestCircuitBreakerStartsClosed(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Second)
	if cb.State() != types.CircuitClosed {
		t.Fatalf("expected initial state closed, got %s", cb.State())
	}
	if !cb.Allow() {
		t.Fatal("expected closed breaker to allow attempts")
	}
}

func TestCircuitBreakerTripsAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Second)

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != types.CircuitClosed {
		t.Fatalf("expected still closed after 2/3 failures, got %s", cb.State())
	}

	cb.RecordFailure()
	if cb.State() != types.CircuitOpen {
		t.Fatalf("expected open after 3/3 failures, got %s", cb.State())
	}
	if cb.Allow() {
		t.Fatal("expected open breaker to reject attempts before cooldown elapses")
	}
}

func TestCircuitBreakerHalfOpensAfterCooldown(t *testing.T) {
	cb := NewCircuitBreaker(1, 20*time.Millisecond)
	cb.RecordFailure()
	if cb.State() != types.CircuitOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	time.Sleep(30 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("expected breaker to allow a trial attempt after cooldown")
	}
	if cb.State() != types.CircuitHalfOpen {
		t.Fatalf("expected half_open after cooldown, got %s", cb.State())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	cb.Allow()
	if cb.State() != types.CircuitHalfOpen {
		t.Fatalf("expected half_open, got %s", cb.State())
	}

	cb.RecordFailure()
	if cb.State() != types.CircuitOpen {
		t.Fatalf("expected re-tripped to open, got %s", cb.State())
	}
}

func TestCircuitBreakerHalfOpenSuccessCloses(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	cb.Allow()

	cb.RecordSuccess()
	if cb.State() != types.CircuitClosed {
		t.Fatalf("expected closed after successful half-open trial, got %s", cb.State())
	}
}

func TestCircuitBreakerResetClearsFailures(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Second)
	cb.RecordFailure()
	cb.Reset()
	cb.RecordFailure()
	if cb.State() != types.CircuitClosed {
		t.Fatalf("expected closed after reset + single failure, got %s", cb.State())
	}
}
