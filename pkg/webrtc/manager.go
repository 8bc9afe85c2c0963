package webrtc

import (
	"context"
	"sync"

	"github.com/zenmesh/transport/pkg/buffer"
	"github.com/zenmesh/transport/pkg/config"
	"github.com/zenmesh/transport/pkg/errors"
	"github.com/zenmesh/transport/pkg/logger"
	"github.com/zenmesh/transport/pkg/types"
)

// PeerManager owns the full-mesh set of peer connections for one local
// endpoint, enforcing the configured peer cap and fanning out connection
// events to the transport layer above it.
type PeerManager struct {
	cfg *config.TransportConfig
	log logger.Logger

	mu    sync.RWMutex
	peers map[types.PeerID]*PeerConnection

	bufPool *buffer.Pool

	onPeerConnected    func(types.PeerID)
	onPeerDisconnected func(types.PeerID)
}

// NewPeerManager constructs an empty peer manager bound to cfg.MaxPeers.
func NewPeerManager(cfg *config.TransportConfig, log logger.Logger) *PeerManager {
	return &PeerManager{
		cfg:     cfg,
		log:     log,
		peers:   make(map[types.PeerID]*PeerConnection),
		bufPool: buffer.NewPool([]int{256, 1024, 1500, 4096, 16384}),
	}
}

// OnPeerConnected registers a callback fired once a peer reaches StateConnected.
func (m *PeerManager) OnPeerConnected(cb func(types.PeerID)) { m.onPeerConnected = cb }

// OnPeerDisconnected registers a callback fired when a peer is removed or fails.
func (m *PeerManager) OnPeerDisconnected(cb func(types.PeerID)) { m.onPeerDisconnected = cb }

// CreatePeer allocates a new PeerConnection for id, rejecting the call if id
// is already connected or the peer cap (cfg.MaxPeers) would be exceeded.
func (m *PeerManager) CreatePeer(id types.PeerID) (*PeerConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.peers[id]; exists {
		return nil, errors.NewPeerAlreadyExistsError(string(id))
	}

	if len(m.peers) >= m.cfg.MaxPeers {
		return nil, errors.NewPeerCapExceededError(m.cfg.MaxPeers)
	}

	peer, err := NewPeerConnection(id, m.cfg, m.log, m.bufPool)
	if err != nil {
		return nil, err
	}

	peer.OnStateChange(func(peerID types.PeerID, state types.ConnectionState) {
		switch state {
		case types.StateConnected:
			if m.onPeerConnected != nil {
				m.onPeerConnected(peerID)
			}
		case types.StateFailed, types.StateClosed:
			if m.onPeerDisconnected != nil {
				m.onPeerDisconnected(peerID)
			}
		}
	})

	m.peers[id] = peer

	m.log.Info("created peer connection", logger.String("peer_id", string(id)))

	return peer, nil
}

// GetPeer returns a tracked peer's handle, whatever its connection state.
func (m *PeerManager) GetPeer(id types.PeerID) (*PeerConnection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	peer, exists := m.peers[id]
	if !exists {
		return nil, errors.NewPeerNotFoundError(string(id))
	}
	return peer, nil
}

// RemovePeer closes and forgets a peer connection.
func (m *PeerManager) RemovePeer(id types.PeerID) error {
	m.mu.Lock()
	peer, exists := m.peers[id]
	if !exists {
		m.mu.Unlock()
		return errors.NewPeerNotFoundError(string(id))
	}
	delete(m.peers, id)
	m.mu.Unlock()

	if err := peer.Close(); err != nil {
		m.log.Error("failed to close peer connection", logger.String("peer_id", string(id)), logger.Err(err))
		return err
	}

	if m.onPeerDisconnected != nil {
		m.onPeerDisconnected(id)
	}

	return nil
}

// ListConnectedPeers returns a materialized snapshot of every peer currently
// in StateConnected. Peers still negotiating or already torn down are
// omitted, matching the "every Connected peer" contract Broadcast and
// list_peers rely on.
func (m *PeerManager) ListConnectedPeers() []types.PeerInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]types.PeerInfo, 0, len(m.peers))
	for id, peer := range m.peers {
		state := peer.State()
		if state != types.StateConnected {
			continue
		}
		infos = append(infos, types.PeerInfo{
			ID:           id,
			State:        state,
			Metrics:      peer.Metrics(),
			Capabilities: peer.Capabilities(),
			ConnectedAt:  peer.ConnectedAt(),
		})
	}
	return infos
}

// Count returns the number of currently tracked peers.
func (m *PeerManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.peers)
}

// CloseAll closes every peer connection, used during transport shutdown.
func (m *PeerManager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]types.PeerID, 0, len(m.peers))
	for id := range m.peers {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var lastErr error
	for _, id := range ids {
		if err := m.RemovePeer(id); err != nil {
			lastErr = err
		}
	}

	return lastErr
}
