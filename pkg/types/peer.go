// Package types holds the wire and data model shared across the signaling,
// synchronization, webrtc, and session packages.
package types

import "time"

// PeerID uniquely identifies a peer within a signaling namespace.
type PeerID string

// ConnectionState is the lifecycle state of a PeerConnection.
type ConnectionState int

const (
	// StateNew is the initial state before offer/answer negotiation begins.
	StateNew ConnectionState = iota
	// StateGatheringIce is entered once an offer or answer has been created.
	StateGatheringIce
	// StateConnecting is entered once a remote description has been applied,
	// or when Pion reports the connection as connecting; candidate pairs are
	// not checked.
	StateConnecting
	// StateConnected is entered once ICE completes and DTLS succeeds.
	StateConnected
	// StateFailed is entered on ICE timeout, DTLS failure, or lost connectivity.
	StateFailed
	// StateClosed is terminal.
	StateClosed
)

// String renders the connection state for logs and metrics.
func (s ConnectionState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateGatheringIce:
		return "gathering_ice"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CircuitState mirrors the reconnect package's breaker state for exposure
// through ConnectionQualityMetrics without importing pkg/reconnect here.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (c CircuitState) String() string {
	switch c {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ConnectionQualityMetrics summarizes a peer's link quality, folded in from
// RTCP Receiver Reports and local send/receive counters.
type ConnectionQualityMetrics struct {
	RTT              time.Duration
	PacketLossRate   float64
	JitterMs         float64
	BandwidthKbps    int
	VideoWidth       int
	VideoHeight      int
	VideoFPS         float64
	AudioBitrateKbps int
	VideoBitrateKbps int
	CircuitState     CircuitState
	UpdatedAt        time.Time
}

// Capabilities describes what a peer announced it supports during
// peer.announce (audio/video/data-channel presence, codec hints).
type Capabilities struct {
	Audio       bool     `json:"audio"`
	Video       bool     `json:"video"`
	DataChannel bool     `json:"data_channel"`
	VideoCodecs []string `json:"video_codecs,omitempty"`
}

// PeerInfo is a materialized, lock-free snapshot of a connected peer,
// returned by PeerManager.ListConnectedPeers.
type PeerInfo struct {
	ID           PeerID
	State        ConnectionState
	Metrics      ConnectionQualityMetrics
	Capabilities Capabilities
	ConnectedAt  time.Time
}
