// Package quality scores per-peer connection quality from loss/RTT/jitter/
// bandwidth samples and raises threshold-based warnings, the way a
// supervisor would watch a dashboard rather than stare at raw RTCP numbers.
package quality

import (
	"sync"
	"time"

	"github.com/zenmesh/transport/pkg/logger"
	"github.com/zenmesh/transport/pkg/types"
)

// Level is a coarse quality tier. Values match the QualityTier strings used
// by types.OutputRoute, so a Monitor's verdict can gate routing decisions
// directly.
type Level string

const (
	LevelHigh   Level = "high"
	LevelMedium Level = "medium"
	LevelLow    Level = "low"
)

// Sample is one quality measurement for a peer.
type Sample struct {
	PeerID         types.PeerID
	PacketLoss     float64 // fraction 0..1
	Jitter         time.Duration
	RTT            time.Duration
	BandwidthKbps  int
	Timestamp      time.Time
	Score          int
	Level          Level
}

// Thresholds gates when Monitor logs a warning or critical alert.
type Thresholds struct {
	PacketLossWarning  float64
	PacketLossCritical float64
	RTTWarning         time.Duration
	RTTCritical        time.Duration
	JitterWarning      time.Duration
	JitterCritical     time.Duration
	MinBandwidthKbps   int
}

// DefaultThresholds mirrors commonly accepted WebRTC quality cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		PacketLossWarning:  0.03,
		PacketLossCritical: 0.10,
		RTTWarning:         200 * time.Millisecond,
		RTTCritical:        500 * time.Millisecond,
		JitterWarning:      50 * time.Millisecond,
		JitterCritical:     100 * time.Millisecond,
		MinBandwidthKbps:   500,
	}
}

// calculateScore computes a 0-100 quality score, weighted 40/30/20/10 across
// packet loss, RTT, jitter, and bandwidth.
func calculateScore(s Sample) int {
	lossScore := 0
	switch {
	case s.PacketLoss < 0.01:
		lossScore = 40
	case s.PacketLoss < 0.03:
		lossScore = 30
	case s.PacketLoss < 0.05:
		lossScore = 20
	case s.PacketLoss < 0.10:
		lossScore = 10
	}

	rttScore := 0
	switch rttMs := s.RTT.Milliseconds(); {
	case rttMs < 100:
		rttScore = 30
	case rttMs < 200:
		rttScore = 20
	case rttMs < 400:
		rttScore = 10
	}

	jitterScore := 0
	switch jitterMs := s.Jitter.Milliseconds(); {
	case jitterMs < 20:
		jitterScore = 20
	case jitterMs < 50:
		jitterScore = 15
	case jitterMs < 100:
		jitterScore = 10
	}

	bwScore := 0
	switch {
	case s.BandwidthKbps > 3000:
		bwScore = 10
	case s.BandwidthKbps > 1000:
		bwScore = 7
	case s.BandwidthKbps > 500:
		bwScore = 4
	}

	return lossScore + rttScore + jitterScore + bwScore
}

func levelForScore(score int) Level {
	switch {
	case score >= 80:
		return LevelHigh
	case score >= 50:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Monitor tracks quality samples per peer and raises threshold warnings.
type Monitor struct {
	log logger.Logger

	mu             sync.RWMutex
	current        map[types.PeerID]Sample
	history        map[types.PeerID][]Sample
	maxHistorySize int
	thresholds     Thresholds

	onLevelChange func(id types.PeerID, sample Sample)
}

// NewMonitor constructs a Monitor with default thresholds and a 30-sample
// rolling history per peer.
func NewMonitor(log logger.Logger) *Monitor {
	return &Monitor{
		log:            log,
		current:        make(map[types.PeerID]Sample),
		history:        make(map[types.PeerID][]Sample),
		maxHistorySize: 30,
		thresholds:     DefaultThresholds(),
	}
}

// OnLevelChange registers a callback fired whenever a peer's quality Level
// changes from its previous sample.
func (m *Monitor) OnLevelChange(cb func(id types.PeerID, sample Sample)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLevelChange = cb
}

// Record ingests a new measurement, computing its score/level, updating
// history, and logging/firing callbacks as thresholds dictate.
func (m *Monitor) Record(id types.PeerID, packetLoss float64, jitter, rtt time.Duration, bandwidthKbps int) Sample {
	sample := Sample{
		PeerID:        id,
		PacketLoss:    packetLoss,
		Jitter:        jitter,
		RTT:           rtt,
		BandwidthKbps: bandwidthKbps,
		Timestamp:     time.Now(),
	}
	sample.Score = calculateScore(sample)
	sample.Level = levelForScore(sample.Score)

	m.mu.Lock()
	previous, hadPrevious := m.current[id]
	m.current[id] = sample

	hist := m.history[id]
	hist = append(hist, sample)
	if len(hist) > m.maxHistorySize {
		hist = hist[1:]
	}
	m.history[id] = hist
	cb := m.onLevelChange
	m.mu.Unlock()

	m.checkThresholds(id, sample)

	if hadPrevious && previous.Level != sample.Level {
		m.log.Info("peer quality level changed",
			logger.String("peer_id", string(id)),
			logger.String("previous_level", string(previous.Level)),
			logger.String("new_level", string(sample.Level)),
			logger.Int("score", sample.Score),
		)
		if cb != nil {
			go cb(id, sample)
		}
	}

	return sample
}

func (m *Monitor) checkThresholds(id types.PeerID, s Sample) {
	switch {
	case s.PacketLoss >= m.thresholds.PacketLossCritical:
		m.log.Error("critical packet loss", logger.String("peer_id", string(id)), logger.Any("packet_loss", s.PacketLoss))
	case s.PacketLoss >= m.thresholds.PacketLossWarning:
		m.log.Warn("high packet loss", logger.String("peer_id", string(id)), logger.Any("packet_loss", s.PacketLoss))
	}

	switch {
	case s.RTT >= m.thresholds.RTTCritical:
		m.log.Error("critical RTT", logger.String("peer_id", string(id)), logger.Duration("rtt", s.RTT))
	case s.RTT >= m.thresholds.RTTWarning:
		m.log.Warn("high RTT", logger.String("peer_id", string(id)), logger.Duration("rtt", s.RTT))
	}

	switch {
	case s.Jitter >= m.thresholds.JitterCritical:
		m.log.Error("critical jitter", logger.String("peer_id", string(id)), logger.Duration("jitter", s.Jitter))
	case s.Jitter >= m.thresholds.JitterWarning:
		m.log.Warn("high jitter", logger.String("peer_id", string(id)), logger.Duration("jitter", s.Jitter))
	}

	if s.BandwidthKbps < m.thresholds.MinBandwidthKbps {
		m.log.Warn("low bandwidth", logger.String("peer_id", string(id)), logger.Int("bandwidth_kbps", s.BandwidthKbps))
	}
}

// Current returns a peer's most recent sample.
func (m *Monitor) Current(id types.PeerID) (Sample, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.current[id]
	return s, ok
}

// History returns up to limit of a peer's most recent samples (all of them
// if limit <= 0).
func (m *Monitor) History(id types.PeerID, limit int) []Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hist, ok := m.history[id]
	if !ok {
		return nil
	}
	if limit > 0 && len(hist) > limit {
		return append([]Sample(nil), hist[len(hist)-limit:]...)
	}
	return append([]Sample(nil), hist...)
}

// Remove discards all quality data for a peer, e.g. on disconnect.
func (m *Monitor) Remove(id types.PeerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.current, id)
	delete(m.history, id)
}

// SessionAverage computes the mean quality across all currently tracked
// peers, useful for a session-level dashboard figure.
func (m *Monitor) SessionAverage() (Sample, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.current) == 0 {
		return Sample{}, false
	}

	var lossSum float64
	var bwSum int
	var jitterSum, rttSum time.Duration
	n := 0

	for _, s := range m.current {
		lossSum += s.PacketLoss
		jitterSum += s.Jitter
		rttSum += s.RTT
		bwSum += s.BandwidthKbps
		n++
	}

	avg := Sample{
		PacketLoss:    lossSum / float64(n),
		Jitter:        jitterSum / time.Duration(n),
		RTT:           rttSum / time.Duration(n),
		BandwidthKbps: bwSum / n,
		Timestamp:     time.Now(),
	}
	avg.Score = calculateScore(avg)
	avg.Level = levelForScore(avg.Score)

	return avg, true
}
