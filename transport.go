// Package transport is the top-level entry point: it wires peer connection
// lifecycle, signaling, session routing, reconnection, and quality
// monitoring into the handful of operations an embedding application calls.
package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	pionwebrtc "github.com/pion/webrtc/v3"

	"github.com/zenmesh/transport/pkg/config"
	"github.com/zenmesh/transport/pkg/errors"
	"github.com/zenmesh/transport/pkg/logger"
	"github.com/zenmesh/transport/pkg/quality"
	"github.com/zenmesh/transport/pkg/reconnect"
	"github.com/zenmesh/transport/pkg/session"
	"github.com/zenmesh/transport/pkg/signaling"
	"github.com/zenmesh/transport/pkg/types"
	"github.com/zenmesh/transport/pkg/webrtc"
)

// Version identifies this build for diagnostics and compatibility checks.
const Version = "1.0.0"

// shutdownGrace bounds how long Shutdown waits for in-flight teardown work.
const shutdownGrace = 1 * time.Second

// Transport is the full-mesh peer transport: it owns one local endpoint's
// peer connections, signaling channel, pipeline sessions, and the
// reconnection/quality supervisors riding alongside them.
type Transport struct {
	cfg *config.TransportConfig
	log logger.Logger

	peers     *webrtc.PeerManager
	sig       *signaling.Client
	sessions  *session.Manager
	reconnect *reconnect.Handler
	quality   *quality.Monitor

	peerSource *peerSourceAdapter

	mu      sync.RWMutex
	running bool
}

// New constructs a Transport from a validated configuration. A nil cfg falls
// back to config.DefaultConfig().
func New(cfg *config.TransportConfig) (*Transport, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logger.NewDefaultLogger(logger.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)

	peers := webrtc.NewPeerManager(cfg, log)

	sig := signaling.NewClient(cfg.SignalingURL, log)
	if cfg.SigningSecret != "" {
		signer, err := signaling.NewRequestSigner([]byte(cfg.SigningSecret), []byte(cfg.PeerID))
		if err != nil {
			return nil, errors.NewInvalidConfigError("failed to derive signaling request signer: " + err.Error())
		}
		sig.SetSigner(signer)
	}

	t := &Transport{
		cfg:        cfg,
		log:        log,
		peers:      peers,
		sig:        sig,
		sessions:   session.NewManager(log),
		quality:    quality.NewMonitor(log),
		peerSource: &peerSourceAdapter{peers: peers},
	}

	t.reconnect = reconnect.NewHandler(cfg.Reconnect, log, t.attemptReconnect)
	t.reconnect.SetCallbacks(t.onPeerReconnected, t.onPeerGaveUp)

	t.wireSignaling()
	t.wirePeerEvents()

	return t, nil
}

// Config returns the configuration this Transport was built from.
func (t *Transport) Config() *config.TransportConfig { return t.cfg }

// Logger returns the structured logger shared by every subsystem.
func (t *Transport) Logger() logger.Logger { return t.log }

// QualityMonitor exposes the connection-quality supervisor for callers that
// want to feed it external samples or read session-wide averages.
func (t *Transport) QualityMonitor() *quality.Monitor { return t.quality }

// IsRunning reports whether Start has succeeded and Shutdown has not yet run.
func (t *Transport) IsRunning() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

// Start dials the signaling endpoint and announces this peer's capabilities.
func (t *Transport) Start(ctx context.Context, caps types.Capabilities) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = true
	t.mu.Unlock()

	if err := t.sig.Connect(ctx); err != nil {
		t.mu.Lock()
		t.running = false
		t.mu.Unlock()
		return err
	}

	return t.sig.Announce(t.cfg.PeerID, caps)
}

// wireSignaling binds inbound JSON-RPC notifications to peer lifecycle
// transitions: an offer creates (or reuses) a peer and answers it, an
// answer completes an outbound connect_peer, a trickle candidate is applied
// to the matching peer, and a disconnect notification tears the peer down.
func (t *Transport) wireSignaling() {
	t.sig.OnAnnounce(t.handleInboundAnnounce)
	t.sig.OnOffer(t.handleInboundOffer)
	t.sig.OnAnswer(t.handleInboundAnswer)
	t.sig.OnICECandidate(t.handleInboundICECandidate)
	t.sig.OnDisconnect(func(p types.DisconnectParams) {
		t.peers.RemovePeer(types.PeerID(p.From))
	})
}

// wirePeerEvents routes unexpected peer failures into the backoff handler.
func (t *Transport) wirePeerEvents() {
	t.peers.OnPeerDisconnected(func(id types.PeerID) {
		// RemovePeer forgets the peer before closing it, so a peer that is no
		// longer tracked was removed on purpose and is not retried.
		if _, err := t.peers.GetPeer(id); err != nil {
			return
		}
		t.reconnect.HandleDisconnect(id)
	})
}

// handleInboundAnnounce records a remote peer's announced capabilities,
// creating a placeholder peer connection for it if one does not already
// exist so a subsequent offer/answer exchange has somewhere to attach them.
func (t *Transport) handleInboundAnnounce(p types.AnnounceParams) {
	peerID := types.PeerID(p.PeerID)

	peer, err := t.peers.GetPeer(peerID)
	if err != nil {
		peer, err = t.peers.CreatePeer(peerID)
		if err != nil {
			t.log.Error("failed to create peer for inbound announce", logger.String("peer_id", p.PeerID), logger.Err(err))
			return
		}
		t.wireOutboundICE(peer)
	}

	peer.SetCapabilities(p.Capabilities)
}

func (t *Transport) handleInboundOffer(p types.OfferParams) {
	peerID := types.PeerID(p.From)

	peer, err := t.peers.GetPeer(peerID)
	if err != nil {
		peer, err = t.peers.CreatePeer(peerID)
		if err != nil {
			t.log.Error("failed to create peer for inbound offer", logger.String("peer_id", p.From), logger.Err(err))
			return
		}
		t.wireOutboundICE(peer)

		if err := t.setupOutboundMedia(peer); err != nil {
			t.log.Error("failed to attach outbound media to answering peer", logger.String("peer_id", p.From), logger.Err(err))
			t.peers.RemovePeer(peerID)
			return
		}
	}

	if err := peer.SetRemoteDescription(pionwebrtc.SessionDescription{Type: pionwebrtc.SDPTypeOffer, SDP: p.SDP}); err != nil {
		t.log.Error("failed to apply remote offer", logger.String("peer_id", p.From), logger.Err(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.ICETimeout)
	defer cancel()

	answer, err := peer.CreateAnswer(ctx, t.cfg.ICETimeout)
	if err != nil {
		t.log.Error("failed to create answer", logger.String("peer_id", p.From), logger.Err(err))
		return
	}

	if err := t.sig.SendAnswer(t.cfg.PeerID, p.From, answer.SDP); err != nil {
		t.log.Error("failed to relay answer", logger.String("peer_id", p.From), logger.Err(err))
	}
}

func (t *Transport) handleInboundAnswer(p types.AnswerParams) {
	peer, err := t.peers.GetPeer(types.PeerID(p.From))
	if err != nil {
		t.log.Warn("answer received for unknown peer", logger.String("peer_id", p.From))
		return
	}

	if err := peer.SetRemoteDescription(pionwebrtc.SessionDescription{Type: pionwebrtc.SDPTypeAnswer, SDP: p.SDP}); err != nil {
		t.log.Error("failed to apply remote answer", logger.String("peer_id", p.From), logger.Err(err))
	}
}

func (t *Transport) handleInboundICECandidate(p types.ICECandidateParams) {
	peer, err := t.peers.GetPeer(types.PeerID(p.From))
	if err != nil {
		return
	}

	raw, err := json.Marshal(p.Candidate)
	if err != nil {
		return
	}

	var candidate pionwebrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &candidate); err != nil {
		t.log.Warn("failed to decode ice candidate", logger.Err(err))
		return
	}

	if err := peer.AddICECandidate(candidate); err != nil {
		t.log.Warn("failed to add ice candidate", logger.String("peer_id", p.From), logger.Err(err))
	}
}

func (t *Transport) wireOutboundICE(peer *webrtc.PeerConnection) {
	peer.OnICECandidate(func(id types.PeerID, c pionwebrtc.ICECandidateInit) {
		if err := t.sig.SendICECandidate(t.cfg.PeerID, string(id), c); err != nil {
			t.log.Warn("failed to relay ice candidate", logger.String("peer_id", string(id)), logger.Err(err))
		}
	})
}

// setupOutboundMedia attaches this side's local audio and video tracks to a
// freshly created peer connection and, when cfg.EnableDataChannel is set,
// opens the data channel, so the offer/answer this peer negotiates already
// carries a send path for SendToPeer/Broadcast/SendRuntimeData to use.
func (t *Transport) setupOutboundMedia(peer *webrtc.PeerConnection) error {
	audioTrack, err := pionwebrtc.NewTrackLocalStaticRTP(
		pionwebrtc.RTPCodecCapability{
			MimeType:  pionwebrtc.MimeTypeOpus,
			ClockRate: uint32(t.cfg.AudioCodec.SampleRate),
			Channels:  uint16(t.cfg.AudioCodec.Channels),
		},
		"audio", string(peer.ID()),
	)
	if err != nil {
		return errors.NewEncodingError("create local audio track failed", err)
	}
	if _, err := peer.AddTrack(audioTrack); err != nil {
		return err
	}

	videoTrack, err := pionwebrtc.NewTrackLocalStaticRTP(
		pionwebrtc.RTPCodecCapability{MimeType: pionwebrtc.MimeTypeVP9, ClockRate: 90000},
		"video", string(peer.ID()),
	)
	if err != nil {
		return errors.NewEncodingError("create local video track failed", err)
	}
	if _, err := peer.AddTrack(videoTrack); err != nil {
		return err
	}

	if t.cfg.EnableDataChannel {
		if _, err := peer.CreateDataChannel("data"); err != nil {
			return err
		}
	}

	return nil
}

// ConnectPeer creates a peer connection, sends an SDP offer through
// signaling, and blocks until the connection reaches Connected or
// cfg.ICETimeout elapses.
func (t *Transport) ConnectPeer(ctx context.Context, peerID types.PeerID) (*webrtc.PeerConnection, error) {
	peer, err := t.peers.CreatePeer(peerID)
	if err != nil {
		return nil, err
	}
	t.wireOutboundICE(peer)

	if err := t.setupOutboundMedia(peer); err != nil {
		t.peers.RemovePeer(peerID)
		return nil, err
	}

	offerCtx, cancel := context.WithTimeout(ctx, t.cfg.ICETimeout)
	defer cancel()

	offer, err := peer.CreateOffer(offerCtx, t.cfg.ICETimeout)
	if err != nil {
		t.peers.RemovePeer(peerID)
		return nil, err
	}

	if err := t.sig.SendOffer(t.cfg.PeerID, string(peerID), offer.SDP); err != nil {
		t.peers.RemovePeer(peerID)
		return nil, err
	}

	deadline := time.Now().Add(t.cfg.ICETimeout)
	for time.Now().Before(deadline) {
		switch peer.State() {
		case types.StateConnected:
			return peer, nil
		case types.StateFailed, types.StateClosed:
			t.peers.RemovePeer(peerID)
			return nil, errors.NewNatTraversalFailedError(string(peerID), nil)
		}
		time.Sleep(20 * time.Millisecond)
	}

	t.peers.RemovePeer(peerID)
	return nil, errors.NewOperationTimeoutError("connect_peer")
}

// DisconnectPeer notifies the remote side, forgets any in-flight
// reconnection state, removes the peer from every session's routing table,
// and closes the underlying connection.
func (t *Transport) DisconnectPeer(peerID types.PeerID) error {
	t.sig.SendDisconnect(t.cfg.PeerID, string(peerID))
	t.reconnect.Forget(peerID)

	for _, sessionID := range t.sessions.ListSessions() {
		t.sessions.RemovePeerFromSession(peerID, sessionID)
	}

	return t.peers.RemovePeer(peerID)
}

// ListPeers returns a snapshot of every peer currently in StateConnected.
func (t *Transport) ListPeers() []types.PeerInfo {
	return t.peers.ListConnectedPeers()
}

// SendToPeer delivers runtime data directly to one peer, bypassing session
// routing entirely.
func (t *Transport) SendToPeer(peerID types.PeerID, data types.RuntimeData) error {
	peer, err := t.peers.GetPeer(peerID)
	if err != nil {
		return err
	}
	return peer.SendRuntimeData(data)
}

// Broadcast delivers runtime data to every currently connected peer in
// parallel, counting successes and failures rather than stopping at the
// first error.
func (t *Transport) Broadcast(data types.RuntimeData) types.BroadcastStats {
	start := time.Now()

	connected := t.peers.ListConnectedPeers()
	stats := types.BroadcastStats{TotalPeers: len(connected)}

	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, info := range connected {
		info := info
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := t.SendToPeer(info.ID, data)

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

// Stream starts a pipeline session that looks up peers in this transport's
// peer manager and returns a handle for driving it directly and for
// admitting/removing peers and changing its routing policy. The session
// starts with no participants; peers take part once admitted with AddPeer.
func (t *Transport) Stream(manifest session.Manifest, factory session.RunnerFactory) (*StreamHandle, error) {
	id, err := t.sessions.CreateSession(manifest, factory, t.peerSource)
	if err != nil {
		return nil, err
	}
	router, err := t.sessions.GetSession(id)
	if err != nil {
		return nil, err
	}
	return &StreamHandle{sessionID: id, router: router, sessions: t.sessions}, nil
}

// ExecuteUnary runs a single request/response through a freshly constructed
// pipeline with no peers attached, waiting up to cfg.ICETimeout for output.
func (t *Transport) ExecuteUnary(manifest session.Manifest, factory session.RunnerFactory, input types.RuntimeData) (types.RuntimeData, error) {
	runner, err := factory(manifest)
	if err != nil {
		return types.RuntimeData{}, errors.NewEncodingError("pipeline runner construction failed", err)
	}
	defer runner.Close()

	if err := runner.SendInput(input); err != nil {
		return types.RuntimeData{}, err
	}

	deadline := time.Now().Add(t.cfg.ICETimeout)
	for time.Now().Before(deadline) {
		out, ok := runner.RecvOutput()
		if ok {
			return out, nil
		}
		if !runner.IsActive() {
			break
		}
	}
	return types.RuntimeData{}, errors.NewOperationTimeoutError("execute_unary")
}

// ExecuteStreaming runs a continuous pipeline against an input stream with
// no peer routing, returning an output channel and a function to stop it.
func (t *Transport) ExecuteStreaming(manifest session.Manifest, factory session.RunnerFactory, input <-chan types.RuntimeData) (<-chan types.RuntimeData, func() error, error) {
	runner, err := factory(manifest)
	if err != nil {
		return nil, nil, errors.NewEncodingError("pipeline runner construction failed", err)
	}

	output := make(chan types.RuntimeData, 64)
	done := make(chan struct{})
	var closeOnce sync.Once

	go func() {
		for {
			select {
			case data, ok := <-input:
				if !ok {
					return
				}
				if err := runner.SendInput(data); err != nil {
					t.log.Warn("execute_streaming input rejected", logger.Err(err))
				}
			case <-done:
				return
			}
		}
	}()

	go func() {
		defer close(output)
		for {
			select {
			case <-done:
				return
			default:
			}

			data, ok := runner.RecvOutput()
			if !ok {
				if !runner.IsActive() {
					return
				}
				continue
			}

			select {
			case output <- data:
			case <-done:
				return
			}
		}
	}()

	closeFn := func() error {
		closeOnce.Do(func() { close(done) })
		return runner.Close()
	}

	return output, closeFn, nil
}

func (t *Transport) attemptReconnect(ctx context.Context, id types.PeerID, attempt int) error {
	t.peers.RemovePeer(id)
	_, err := t.ConnectPeer(ctx, id)
	return err
}

func (t *Transport) onPeerReconnected(id types.PeerID) {
	t.log.Info("peer reconnected", logger.String("peer_id", string(id)))
}

func (t *Transport) onPeerGaveUp(id types.PeerID, err error) {
	t.log.Error("gave up reconnecting to peer", logger.String("peer_id", string(id)), logger.Err(err))
}

// Shutdown stops reconnection attempts, terminates every session, closes
// every peer connection, and disconnects signaling. It is meant to complete
// within shutdownGrace under normal conditions.
func (t *Transport) Shutdown() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(t.reconnect.Close())
	record(t.sessions.Shutdown())
	record(t.peers.CloseAll(ctx))
	record(t.sig.Close())

	return firstErr
}

// peerSourceAdapter makes *webrtc.PeerManager satisfy session.PeerSource:
// PeerManager.GetPeer returns a concrete *webrtc.PeerConnection, which does
// not automatically satisfy an interface-returning method signature, so this
// thin wrapper narrows the return type at the call boundary.
type peerSourceAdapter struct {
	peers *webrtc.PeerManager
}

func (a *peerSourceAdapter) GetPeer(id types.PeerID) (session.PeerSink, error) {
	peer, err := a.peers.GetPeer(id)
	if err != nil {
		return nil, err
	}
	return peer, nil
}

func (a *peerSourceAdapter) ListConnectedPeers() []types.PeerInfo {
	return a.peers.ListConnectedPeers()
}

// StreamHandle is the caller-facing handle returned by Stream: it exposes
// the session's own input/output alongside peer admission and routing
// policy control.
type StreamHandle struct {
	sessionID string
	router    *session.Router
	sessions  *session.Manager
}

// SessionID returns the underlying session's identifier.
func (h *StreamHandle) SessionID() string { return h.sessionID }

// AddPeer admits a peer into this session's routing table.
func (h *StreamHandle) AddPeer(id types.PeerID) { h.router.AddPeer(id) }

// RemovePeer evicts a peer from this session's routing table.
func (h *StreamHandle) RemovePeer(id types.PeerID) { h.router.RemovePeer(id) }

// SetRoutingPolicy replaces the session's active routing policy.
func (h *StreamHandle) SetRoutingPolicy(policy types.RoutingPolicy) { h.router.SetRoutingPolicy(policy) }

// SendInput feeds data directly into the session's pipeline, independent of
// any peer's inbound queue.
func (h *StreamHandle) SendInput(data types.RuntimeData) error {
	return h.router.Runner().SendInput(data)
}

// RecvOutput pulls one item of pipeline output directly, independent of
// peer-routed delivery.
func (h *StreamHandle) RecvOutput() (types.RuntimeData, bool) {
	return h.router.Runner().RecvOutput()
}

// IsActive reports whether the underlying pipeline runner is still active.
func (h *StreamHandle) IsActive() bool { return h.router.IsActive() }

// Close terminates the session and releases its pipeline handle.
func (h *StreamHandle) Close() error { return h.sessions.TerminateSession(h.sessionID) }
