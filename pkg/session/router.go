// Package session glues peers to a pipeline execution graph under a
// session-scoped namespace: incoming RTP-derived runtime data is fed into an
// opaque pipeline runner, and runner output is fanned back out to peers per
// a configurable routing policy.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/zenmesh/transport/pkg/logger"
	"github.com/zenmesh/transport/pkg/types"
)

// inputChanCapacity bounds each peer's inbound queue to the pipeline; a full
// queue drops the oldest queued frame rather than blocking the RTP ingest
// path, since a stale frame is worse than a dropped one for live media.
const inputChanCapacity = 64

// errorBurstThreshold is the number of errors within one second (see
// recordError) that escalates to a session-level error event.
const errorBurstThreshold = 10

// Manifest is opaque to the transport layer; it is handed verbatim to
// whatever RunnerFactory constructs the pipeline for a session.
type Manifest interface{}

// PipelineRunner is the transport-side view of an external pipeline
// instance: feed it runtime data, pull processed runtime data back out.
type PipelineRunner interface {
	SendInput(data types.RuntimeData) error
	RecvOutput() (types.RuntimeData, bool)
	Close() error
	IsActive() bool
}

// RunnerFactory constructs a PipelineRunner from a manifest; SessionManager
// calls this once per CreateSession.
type RunnerFactory func(manifest Manifest) (PipelineRunner, error)

// PeerSink is the subset of peer-connection behavior a SessionRouter needs
// in order to deliver routed output.
type PeerSink interface {
	ID() types.PeerID
	State() types.ConnectionState
	SendRuntimeData(data types.RuntimeData) error
}

// PeerSource looks up and lists connected peers; PeerManager satisfies this
// through a thin adapter at the Transport layer.
type PeerSource interface {
	GetPeer(id types.PeerID) (PeerSink, error)
	ListConnectedPeers() []types.PeerInfo
}

// Router binds one pipeline instance to a set of peers within a session.
type Router struct {
	id       string
	manifest Manifest
	runner   PipelineRunner
	peers    PeerSource
	log      logger.Logger

	mu           sync.RWMutex
	policy       types.RoutingPolicy
	participants map[types.PeerID]struct{}
	inputChans   map[types.PeerID]chan types.RuntimeData

	errMu          sync.Mutex
	errorTimes     []time.Time
	onSessionError func(sessionID string, err error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closedMu sync.Mutex
	closed   bool
}

// NewRouter constructs a router bound to an already-running PipelineRunner.
// Call Start to begin pulling pipeline output.
func NewRouter(id string, manifest Manifest, runner PipelineRunner, peers PeerSource, log logger.Logger) *Router {
	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		id:           id,
		manifest:     manifest,
		runner:       runner,
		peers:        peers,
		log:          log.With(logger.String("session_id", id)),
		policy:       types.NewBroadcastPolicy(),
		participants: make(map[types.PeerID]struct{}),
		inputChans:   make(map[types.PeerID]chan types.RuntimeData),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// ID returns the session id this router is scoped to.
func (r *Router) ID() string { return r.id }

// OnSessionError registers the callback fired when repeated per-frame
// pipeline errors exceed the burst threshold. The session is never torn down
// by this alone.
func (r *Router) OnSessionError(cb func(sessionID string, err error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSessionError = cb
}

// SetRoutingPolicy replaces the active routing policy; safe to call while
// the session is Active.
func (r *Router) SetRoutingPolicy(policy types.RoutingPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = policy
}

// RoutingPolicy returns the currently active routing policy.
func (r *Router) RoutingPolicy() types.RoutingPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.policy
}

// AddPeer admits a peer into this session's routing table and starts the
// per-peer reader goroutine that drains its input queue into the pipeline.
func (r *Router) AddPeer(id types.PeerID) {
	r.mu.Lock()
	if _, exists := r.participants[id]; exists {
		r.mu.Unlock()
		return
	}
	ch := make(chan types.RuntimeData, inputChanCapacity)
	r.participants[id] = struct{}{}
	r.inputChans[id] = ch
	r.mu.Unlock()

	r.wg.Add(1)
	go r.drainPeerInput(id, ch)
}

// RemovePeer evicts a peer from routing in O(1) and closes its input
// channel; frames already queued are still drained into the pipeline before
// the peer's reader goroutine exits, unless the router is closed first.
func (r *Router) RemovePeer(id types.PeerID) {
	r.mu.Lock()
	ch, exists := r.inputChans[id]
	delete(r.inputChans, id)
	delete(r.participants, id)
	r.mu.Unlock()

	if exists {
		close(ch)
	}
}

// Participants returns the peer ids currently admitted to this session.
func (r *Router) Participants() []types.PeerID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.PeerID, 0, len(r.participants))
	for id := range r.participants {
		out = append(out, id)
	}
	return out
}

// SendInput queues a frame of runtime data arriving from a peer onto that
// peer's bounded input channel, dropping the oldest queued frame if full.
// Returns false if the peer is not a session participant.
func (r *Router) SendInput(id types.PeerID, data types.RuntimeData) bool {
	r.mu.RLock()
	ch, exists := r.inputChans[id]
	r.mu.RUnlock()
	if !exists {
		return false
	}

	select {
	case ch <- data:
		return true
	default:
	}

	// Channel full: drop the oldest queued frame, then enqueue the new one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- data:
	default:
	}
	return true
}

func (r *Router) drainPeerInput(id types.PeerID, ch chan types.RuntimeData) {
	defer r.wg.Done()

	for {
		select {
		case data, ok := <-ch:
			if !ok {
				return
			}
			if err := r.runner.SendInput(data); err != nil {
				r.recordError(err)
			}
		case <-r.ctx.Done():
			return
		}
	}
}

// Start launches the driver goroutine that pulls pipeline output and applies
// the active routing policy. Call once after construction.
func (r *Router) Start() {
	r.wg.Add(1)
	go r.driveOutput()
}

func (r *Router) driveOutput() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		data, ok := r.runner.RecvOutput()
		if !ok {
			if !r.runner.IsActive() {
				return
			}
			continue
		}

		r.route(data)
	}
}

func (r *Router) route(data types.RuntimeData) {
	policy := r.RoutingPolicy()

	switch policy.Kind {
	case types.RoutingUnicast:
		r.deliverTo(policy.UnicastPeer, data)
	case types.RoutingBroadcast:
		r.Broadcast(data)
	case types.RoutingSelective:
		for _, route := range policy.Routes {
			if route.OutputID != "" && route.OutputID != data.OutputID {
				continue
			}
			for _, peerID := range route.TargetPeers {
				r.deliverTo(peerID, data)
			}
		}
	}
}

func (r *Router) deliverTo(id types.PeerID, data types.RuntimeData) error {
	sink, err := r.peers.GetPeer(id)
	if err != nil {
		r.recordError(err)
		return err
	}
	if sink.State() != types.StateConnected {
		return nil
	}
	if err := sink.SendRuntimeData(data); err != nil {
		r.recordError(err)
		return err
	}
	return nil
}

// Broadcast delivers one frame to every Connected peer in the session in
// parallel, bounding fan-out latency, and reports per-call stats.
func (r *Router) Broadcast(data types.RuntimeData) types.BroadcastStats {
	start := time.Now()

	r.mu.RLock()
	connected := make([]types.PeerInfo, 0, len(r.participants))
	for _, info := range r.peers.ListConnectedPeers() {
		if _, ok := r.participants[info.ID]; ok {
			connected = append(connected, info)
		}
	}
	r.mu.RUnlock()
	stats := types.BroadcastStats{TotalPeers: len(connected)}

	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, info := range connected {
		info := info
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.deliverTo(info.ID, data)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.FailedCount++
				stats.FailedPeers = append(stats.FailedPeers, info.ID)
			} else {
				stats.SentCount++
			}
		}()
	}
	wg.Wait()

	stats.TotalDurationMs = time.Since(start).Milliseconds()
	return stats
}

// recordError logs a single pipeline/delivery error and escalates to a
// session-level error event if the per-second burst threshold is exceeded,
// without tearing down the session.
func (r *Router) recordError(err error) {
	r.log.Warn("session frame error", logger.Err(err))

	now := time.Now()
	r.errMu.Lock()
	r.errorTimes = append(r.errorTimes, now)
	cutoff := now.Add(-1 * time.Second)
	kept := r.errorTimes[:0]
	for _, t := range r.errorTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.errorTimes = kept
	burst := len(r.errorTimes) >= errorBurstThreshold
	r.errMu.Unlock()

	if burst {
		r.mu.RLock()
		cb := r.onSessionError
		r.mu.RUnlock()
		if cb != nil {
			cb(r.id, err)
		}
	}
}

// IsActive reports whether the underlying pipeline runner is still active.
func (r *Router) IsActive() bool {
	return r.runner.IsActive()
}

// Runner exposes the underlying pipeline handle directly, for callers that
// need to feed or read a session outside of peer-scoped routing (unary and
// streaming execution with no peers attached).
func (r *Router) Runner() PipelineRunner {
	return r.runner
}

// Close stops the driver and all per-peer readers, closes the pipeline
// handle, and releases every input channel. Safe to call more than once.
func (r *Router) Close() error {
	r.closedMu.Lock()
	if r.closed {
		r.closedMu.Unlock()
		return nil
	}
	r.closed = true
	r.closedMu.Unlock()

	r.cancel()

	r.mu.Lock()
	for id, ch := range r.inputChans {
		close(ch)
		delete(r.inputChans, id)
	}
	r.participants = make(map[types.PeerID]struct{})
	r.mu.Unlock()

	r.wg.Wait()

	return r.runner.Close()
}
