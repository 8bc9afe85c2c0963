package webrtc

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/zenmesh/transport/pkg/config"
	"github.com/zenmesh/transport/pkg/logger"
)

// CreateICEServers builds the Pion ICE server list from TransportConfig's
// STUN/TURN entries.
func CreateICEServers(cfg *config.TransportConfig) []webrtc.ICEServer {
	var servers []webrtc.ICEServer

	if len(cfg.STUNServers) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: cfg.STUNServers})
	}

	for _, t := range cfg.TURNServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       t.URLs,
			Username:   t.Username,
			Credential: t.Credential,
		})
	}

	return servers
}

// iceGatherer drives one peer connection's trickle ICE gathering: it
// forwards every local candidate to onCandidate as it arrives, and resolves
// once gathering completes or the configured timeout elapses.
type iceGatherer struct {
	log logger.Logger

	mu        sync.Mutex
	candidates []webrtc.ICECandidateInit
	complete  bool
}

func newICEGatherer(log logger.Logger) *iceGatherer {
	return &iceGatherer{log: log}
}

// Attach wires the gatherer's OnICECandidate handler onto pc and starts
// forwarding candidates to onCandidate as they're discovered.
func (g *iceGatherer) Attach(pc *webrtc.PeerConnection, onCandidate func(webrtc.ICECandidateInit)) {
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			g.mu.Lock()
			g.complete = true
			g.mu.Unlock()
			return
		}

		init := c.ToJSON()

		g.mu.Lock()
		g.candidates = append(g.candidates, init)
		g.mu.Unlock()

		if onCandidate != nil {
			onCandidate(init)
		}
	})
}

// WaitComplete blocks until gathering completes or ctx/timeout expires.
// Timing out is not an error: trickle ICE means candidates already
// forwarded via onCandidate remain usable.
func (g *iceGatherer) WaitComplete(ctx context.Context, timeout time.Duration) {
	deadline := time.After(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			g.log.Warn("ice gathering timed out")
			return
		case <-ticker.C:
			g.mu.Lock()
			done := g.complete
			g.mu.Unlock()
			if done {
				return
			}
		}
	}
}

// Candidates returns every candidate gathered so far.
func (g *iceGatherer) Candidates() []webrtc.ICECandidateInit {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]webrtc.ICECandidateInit, len(g.candidates))
	copy(out, g.candidates)
	return out
}
