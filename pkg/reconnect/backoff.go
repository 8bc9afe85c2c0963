// Package reconnect implements per-peer exponential backoff reconnection and
// circuit breaking, so a flapping peer link degrades gracefully instead of
// hammering the signaling server or a dead ICE path.
package reconnect

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/zenmesh/transport/pkg/config"
	"github.com/zenmesh/transport/pkg/errors"
	"github.com/zenmesh/transport/pkg/logger"
	"github.com/zenmesh/transport/pkg/types"
)

// reconnectRateBurst bounds how many reconnect attempts across all peers may
// fire back-to-back before the shared limiter starts pacing them at
// InitialDelay's rate, keeping a mass-disconnect from thundering-herding the
// signaling server and ICE stack.
const reconnectRateBurst = 3

// Attempt records the outcome of a single reconnection attempt.
type Attempt struct {
	AttemptNumber int
	Timestamp     time.Time
	Success       bool
	Error         error
}

// peerBackoff tracks the in-flight backoff state for a single peer.
type peerBackoff struct {
	mu        sync.Mutex
	attempts  int
	startTime time.Time
	history   []Attempt
}

// Handler drives reconnection attempts for disconnected peers with
// exponential backoff (InitialDelay doubling up to MaxDelay), gated per-peer
// by a CircuitBreaker so a peer that keeps failing stops being retried until
// its cooldown elapses.
type Handler struct {
	cfg config.ReconnectConfig
	log logger.Logger

	mu       sync.Mutex
	peers    map[types.PeerID]*peerBackoff
	breakers map[types.PeerID]*CircuitBreaker

	ctx    context.Context
	cancel context.CancelFunc

	reconnectFn func(ctx context.Context, id types.PeerID, attempt int) error

	// limiter paces reconnect attempts across all peers sharing this
	// Handler, independent of each peer's own backoff delay.
	limiter *rate.Limiter

	onReconnected func(id types.PeerID)
	onGaveUp      func(id types.PeerID, err error)
}

// NewHandler constructs a reconnection handler. reconnectFn performs a single
// reconnection attempt (e.g. re-running signaling + ICE for a peer) and
// returns nil on success.
func NewHandler(cfg config.ReconnectConfig, log logger.Logger, reconnectFn func(ctx context.Context, id types.PeerID, attempt int) error) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		cfg:         cfg,
		log:         log,
		peers:       make(map[types.PeerID]*peerBackoff),
		breakers:    make(map[types.PeerID]*CircuitBreaker),
		ctx:         ctx,
		cancel:      cancel,
		reconnectFn: reconnectFn,
		limiter:     rate.NewLimiter(rate.Every(cfg.InitialDelay), reconnectRateBurst),
	}
}

// SetCallbacks registers the success/give-up callbacks.
func (h *Handler) SetCallbacks(onReconnected func(id types.PeerID), onGaveUp func(id types.PeerID, err error)) {
	h.onReconnected = onReconnected
	h.onGaveUp = onGaveUp
}

// breakerFor returns (creating if needed) the circuit breaker for a peer.
func (h *Handler) breakerFor(id types.PeerID) *CircuitBreaker {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.breakers[id]
	if !ok {
		b = NewCircuitBreaker(h.cfg.CircuitFailureThreshold, h.cfg.CircuitCooldown)
		h.breakers[id] = b
	}
	return b
}

// HandleDisconnect starts (or restarts) the reconnection loop for a peer in
// the background. It is a no-op if the peer's breaker is currently open.
func (h *Handler) HandleDisconnect(id types.PeerID) {
	breaker := h.breakerFor(id)
	if !breaker.Allow() {
		h.log.Warn("skipping reconnect attempt, circuit open", logger.String("peer_id", string(id)))
		return
	}

	h.mu.Lock()
	if _, exists := h.peers[id]; !exists {
		h.peers[id] = &peerBackoff{startTime: time.Now()}
	}
	h.mu.Unlock()

	h.log.Info("peer disconnected, starting reconnection", logger.String("peer_id", string(id)))
	go h.run(id)
}

func (h *Handler) run(id types.PeerID) {
	h.mu.Lock()
	state, exists := h.peers[id]
	h.mu.Unlock()
	if !exists {
		return
	}

	breaker := h.breakerFor(id)

	ctx, cancel := context.WithTimeout(h.ctx, h.cfg.MaxDelay*time.Duration(h.cfg.MaxAttempts)+h.cfg.MaxDelay)
	defer cancel()

	delay := h.cfg.InitialDelay

	for attempt := 1; attempt <= h.cfg.MaxAttempts; attempt++ {
		if !breaker.Allow() {
			h.finish(id, errors.NewCircuitOpenError(string(id)))
			return
		}

		select {
		case <-ctx.Done():
			h.finish(id, errors.NewOperationTimeoutError("reconnect"))
			return
		case <-time.After(delay):
		}

		if err := h.limiter.Wait(ctx); err != nil {
			h.finish(id, errors.NewOperationTimeoutError("reconnect: rate limited"))
			return
		}

		err := h.reconnectFn(ctx, id, attempt)

		state.mu.Lock()
		state.attempts = attempt
		state.history = append(state.history, Attempt{AttemptNumber: attempt, Timestamp: time.Now(), Success: err == nil, Error: err})
		state.mu.Unlock()

		if err == nil {
			breaker.RecordSuccess()
			h.log.Info("peer reconnected", logger.String("peer_id", string(id)), logger.Int("attempts", attempt))
			h.mu.Lock()
			delete(h.peers, id)
			h.mu.Unlock()
			if h.onReconnected != nil {
				h.onReconnected(id)
			}
			return
		}

		breaker.RecordFailure()
		h.log.Warn("reconnect attempt failed",
			logger.String("peer_id", string(id)),
			logger.Int("attempt", attempt),
			logger.Int("max_attempts", h.cfg.MaxAttempts),
			logger.Err(err),
		)

		delay = time.Duration(float64(delay) * h.cfg.BackoffMultiplier)
		if delay > h.cfg.MaxDelay {
			delay = h.cfg.MaxDelay
		}
	}

	h.finish(id, errors.NewOperationTimeoutError("reconnect: max attempts exceeded"))
}

func (h *Handler) finish(id types.PeerID, err error) {
	h.mu.Lock()
	delete(h.peers, id)
	h.mu.Unlock()

	h.log.Error("giving up reconnecting to peer", logger.String("peer_id", string(id)), logger.Err(err))
	if h.onGaveUp != nil {
		h.onGaveUp(id, err)
	}
}

// CircuitState returns the current breaker state for a peer (CircuitClosed if
// no breaker has been created yet).
func (h *Handler) CircuitState(id types.PeerID) types.CircuitState {
	h.mu.Lock()
	b, ok := h.breakers[id]
	h.mu.Unlock()
	if !ok {
		return types.CircuitClosed
	}
	return b.State()
}

// Forget discards all reconnection/circuit state for a peer, e.g. after an
// explicit disconnect the application does not want retried.
func (h *Handler) Forget(id types.PeerID) {
	h.mu.Lock()
	delete(h.peers, id)
	delete(h.breakers, id)
	h.mu.Unlock()
}

// Close cancels any in-flight reconnection loops.
func (h *Handler) Close() error {
	h.cancel()
	return nil
}
