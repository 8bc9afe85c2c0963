package reconnect

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/zenmesh/transport/pkg/config"
	"github.com/zenmesh/transport/pkg/logger"
	"github.com/zenmesh/transport/pkg/types"
)

func testReconnectConfig() config.ReconnectConfig {
	return config.ReconnectConfig{
		InitialDelay:            5 * time.Millisecond,
		MaxDelay:                20 * time.Millisecond,
		BackoffMultiplier:       2.0,
		MaxAttempts:             5,
		CircuitFailureThreshold: 3,
		CircuitCooldown:         50 * time.Millisecond,
	}
}

func TestHandlerSucceedsOnFirstAttempt(t *testing.T) {
	var calls int
	var mu sync.Mutex

	h := NewHandler(testReconnectConfig(), logger.NewDefaultLogger(logger.ErrorLevel, "text"),
		func(ctx context.Context, id types.PeerID, attempt int) error {
			mu.Lock()
			calls++
			mu.Unlock()
			return nil
		})
	defer h.Close()

	reconnected := make(chan types.PeerID, 1)
	h.SetCallbacks(func(id types.PeerID) { reconnected <- id }, nil)

	h.HandleDisconnect(types.PeerID("peer-a"))

	select {
	case id := <-reconnected:
		if id != "peer-a" {
			t.Fatalf("unexpected peer id %s", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reconnect success")
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected exactly 1 attempt, got %d", calls)
	}
}

func TestHandlerRetriesThenSucceeds(t *testing.T) {
	var attemptCount int
	var mu sync.Mutex

	h := NewHandler(testReconnectConfig(), logger.NewDefaultLogger(logger.ErrorLevel, "text"),
		func(ctx context.Context, id types.PeerID, attempt int) error {
			mu.Lock()
			attemptCount++
			n := attemptCount
			mu.Unlock()
			if n < 3 {
				return context.DeadlineExceeded
			}
			return nil
		})
	defer h.Close()

	reconnected := make(chan types.PeerID, 1)
	h.SetCallbacks(func(id types.PeerID) { reconnected <- id }, nil)

	h.HandleDisconnect(types.PeerID("peer-b"))

	select {
	case <-reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for eventual reconnect success")
	}

	mu.Lock()
	defer mu.Unlock()
	if attemptCount != 3 {
		t.Fatalf("expected 3 attempts before success, got %d", attemptCount)
	}
}

func TestHandlerGivesUpAfterMaxAttemptsAndOpensCircuit(t *testing.T) {
	cfg := testReconnectConfig()
	cfg.MaxAttempts = 3
	cfg.CircuitFailureThreshold = 3

	h := NewHandler(cfg, logger.NewDefaultLogger(logger.ErrorLevel, "text"),
		func(ctx context.Context, id types.PeerID, attempt int) error {
			return context.DeadlineExceeded
		})
	defer h.Close()

	gaveUp := make(chan types.PeerID, 1)
	h.SetCallbacks(nil, func(id types.PeerID, err error) { gaveUp <- id })

	h.HandleDisconnect(types.PeerID("peer-c"))

	select {
	case <-gaveUp:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for give-up callback")
	}

	if h.CircuitState(types.PeerID("peer-c")) != types.CircuitOpen {
		t.Fatalf("expected circuit open after exhausting attempts, got %s", h.CircuitState(types.PeerID("peer-c")))
	}
}

func TestHandlerSkipsDisconnectWhileCircuitOpen(t *testing.T) {
	cfg := testReconnectConfig()
	cfg.CircuitCooldown = time.Hour

	var calls int
	var mu sync.Mutex

	h := NewHandler(cfg, logger.NewDefaultLogger(logger.ErrorLevel, "text"),
		func(ctx context.Context, id types.PeerID, attempt int) error {
			mu.Lock()
			calls++
			mu.Unlock()
			return context.DeadlineExceeded
		})
	defer h.Close()

	breaker := h.breakerFor(types.PeerID("peer-d"))
	for i := 0; i < cfg.CircuitFailureThreshold; i++ {
		breaker.RecordFailure()
	}

	h.HandleDisconnect(types.PeerID("peer-d"))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Fatalf("expected no reconnect attempts while circuit is open, got %d", calls)
	}
}

func TestHandlerForgetClearsState(t *testing.T) {
	h := NewHandler(testReconnectConfig(), logger.NewDefaultLogger(logger.ErrorLevel, "text"),
		func(ctx context.Context, id types.PeerID, attempt int) error { return nil })
	defer h.Close()

	breaker := h.breakerFor(types.PeerID("peer-e"))
	breaker.RecordFailure()

	h.Forget(types.PeerID("peer-e"))

	if h.CircuitState(types.PeerID("peer-e")) != types.CircuitClosed {
		t.Fatal("expected forgetting a peer to reset its circuit state to closed")
	}
}
