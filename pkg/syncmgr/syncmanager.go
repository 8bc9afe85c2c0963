package syncmgr

import (
	"sync"
	"time"

	"github.com/zenmesh/transport/pkg/logger"
	"github.com/zenmesh/transport/pkg/types"
)

const (
	audioClockRate = 48000
	videoClockRate = 90000
)

// ntpRTPMapping is the most recent (NTP wall time, RTP timestamp) pair from
// an RTCP Sender Report for one stream, the basis for RTP->wall-clock
// translation.
type ntpRTPMapping struct {
	ntpUs        int64
	rtpTimestamp uint32
	clockRate    int
	valid        bool
}

// wallClockUs converts an RTP timestamp to wall-clock microseconds using this
// mapping, handling the 32-bit RTP timestamp wraparound by interpreting the
// difference as signed modulo 2^32.
func (m ntpRTPMapping) wallClockUs(rtpNow uint32) int64 {
	diff := int32(rtpNow - m.rtpTimestamp)
	deltaUs := int64(diff) * 1_000_000 / int64(m.clockRate)
	return m.ntpUs + deltaUs
}

// Config bounds SyncManager's jitter buffers.
type Config struct {
	JitterBufferTargetMs int
	MaxBufferMs          int
}

// SyncManager owns one peer's audio clock, video clock, two jitter buffers,
// the clock-drift estimator, and the NTP/RTP mapping table. It is owned by
// exactly one PeerConnection.
type SyncManager struct {
	mu sync.RWMutex

	log logger.Logger

	audioBuffer *JitterBuffer[types.AudioFrame]
	videoBuffer *JitterBuffer[types.VideoFrame]

	drift *ClockDriftEstimator

	audioMapping ntpRTPMapping
	videoMapping ntpRTPMapping

	srCount int

	correctionFactor float64

	lastAudioWallClockUs int64

	now func() time.Time
}

// NewSyncManager constructs a SyncManager with the given jitter-buffer bounds.
func NewSyncManager(cfg Config, log logger.Logger) *SyncManager {
	return &SyncManager{
		log: log,
		audioBuffer: NewJitterBuffer[types.AudioFrame](JitterBufferConfig{
			TargetDelayMs: cfg.JitterBufferTargetMs,
			MaxBufferMs:   cfg.MaxBufferMs,
		}),
		videoBuffer: NewJitterBuffer[types.VideoFrame](JitterBufferConfig{
			TargetDelayMs: cfg.JitterBufferTargetMs,
			MaxBufferMs:   cfg.MaxBufferMs,
		}),
		drift:            NewClockDriftEstimator(),
		audioMapping:     ntpRTPMapping{clockRate: audioClockRate},
		videoMapping:     ntpRTPMapping{clockRate: videoClockRate},
		correctionFactor: 1.0,
		now:              time.Now,
	}
}

func (s *SyncManager) localClockUs() int64 {
	return s.now().UnixMicro()
}

// ProcessAudioFrame inserts an inbound audio frame into the jitter buffer,
// computing its wall-clock playout time from the current NTP/RTP mapping.
// Returns false if the jitter buffer rejects the frame (too old, older than
// local_clock - max_buffer_ms, or a duplicate sequence). Before the first SR
// mapping exists the frame is still buffered, with its arrival time standing
// in for its wall clock.
func (s *SyncManager) ProcessAudioFrame(frame types.AudioFrame) bool {
	s.mu.Lock()
	mapping := s.audioMapping
	s.mu.Unlock()

	wallClockUs := s.frameWallClock(mapping, frame.RTPTimestamp, frame.ArrivalTime)

	ok := s.audioBuffer.Insert(frame.RTPSequence, wallClockUs, frame, s.localClockUs())
	return ok
}

// ProcessVideoFrame is the video analogue of ProcessAudioFrame.
func (s *SyncManager) ProcessVideoFrame(frame types.VideoFrame) bool {
	s.mu.Lock()
	mapping := s.videoMapping
	s.mu.Unlock()

	wallClockUs := s.frameWallClock(mapping, frame.RTPTimestamp, frame.ArrivalTime)

	ok := s.videoBuffer.Insert(frame.RTPSequence, wallClockUs, frame, s.localClockUs())
	return ok
}

// frameWallClock resolves a frame's wall-clock playout time: via the SR
// mapping when one exists, otherwise via the frame's own arrival time so
// frames can still flow (smoothed, not synced) before the first SR lands.
func (s *SyncManager) frameWallClock(mapping ntpRTPMapping, rtpTimestamp uint32, arrival time.Time) int64 {
	if mapping.valid {
		return mapping.wallClockUs(rtpTimestamp)
	}
	return arrival.UnixMicro()
}

// PopNextAudioFrame returns the next SyncedAudioFrame if its playout time has
// arrived, or (zero, false) otherwise.
func (s *SyncManager) PopNextAudioFrame() (types.SyncedAudioFrame, bool) {
	entry, ok := s.audioBuffer.PopNext(s.localClockUs())
	if !ok {
		return types.SyncedAudioFrame{}, false
	}

	confidence := s.syncConfidence()

	s.mu.Lock()
	s.lastAudioWallClockUs = entry.WallClockUs
	s.mu.Unlock()

	synced := types.SyncedAudioFrame{
		Samples:        entry.Payload.Samples,
		SampleRate:     entry.Payload.SampleRate,
		WallClockUs:    entry.WallClockUs,
		RTPTimestamp:   entry.Payload.RTPTimestamp,
		BufferDelayMs:  s.audioBuffer.CurrentDelayMs(),
		SyncConfidence: confidence,
		DriftPPM:       s.currentDriftPPM(),
	}

	return synced, true
}

// PopNextVideoFrame is the video analogue of PopNextAudioFrame; it also
// computes audio_sync_offset_ms against the most recently emitted audio frame.
func (s *SyncManager) PopNextVideoFrame() (types.SyncedVideoFrame, bool) {
	entry, ok := s.videoBuffer.PopNext(s.localClockUs())
	if !ok {
		return types.SyncedVideoFrame{}, false
	}

	s.mu.RLock()
	lastAudioWallClockUs := s.lastAudioWallClockUs
	s.mu.RUnlock()

	var offsetMs float64
	if lastAudioWallClockUs != 0 {
		offsetMs = float64(entry.WallClockUs-lastAudioWallClockUs) / 1000.0
	}

	return types.SyncedVideoFrame{
		Width:             entry.Payload.Width,
		Height:            entry.Payload.Height,
		Format:            entry.Payload.Format,
		Planes:            entry.Payload.Planes,
		WallClockUs:       entry.WallClockUs,
		RTPTimestamp:      entry.Payload.RTPTimestamp,
		BufferDelayMs:      s.videoBuffer.CurrentDelayMs(),
		AudioSyncOffsetMs: offsetMs,
		SyncConfidence:    s.syncConfidence(),
	}, true
}

// UpdateRTCPSenderReport records an NTP<->RTP correspondence for the given
// stream (isAudio selects clock rate) and feeds a drift observation.
func (s *SyncManager) UpdateRTCPSenderReport(sr types.RtcpSenderReport, isAudio bool) {
	ntpUs := ntpToUnixMicro(sr.NTPTimestamp)

	s.mu.Lock()
	s.srCount++
	mapping := ntpRTPMapping{ntpUs: ntpUs, rtpTimestamp: sr.RTPTimestamp, valid: true}
	if isAudio {
		mapping.clockRate = audioClockRate
		s.audioMapping = mapping
	} else {
		mapping.clockRate = videoClockRate
		s.videoMapping = mapping
	}
	s.mu.Unlock()

	receivedAt := sr.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = s.now()
	}
	s.drift.Observe(ntpUs, receivedAt.UnixMicro())
}

// ntpToUnixMicro converts a 64-bit fixed-point NTP timestamp (32.32) to Unix
// microseconds. NTP epoch starts 1900-01-01; the offset to the Unix epoch is
// 2208988800 seconds.
const ntpUnixEpochOffsetSeconds = 2208988800

func ntpToUnixMicro(ntp uint64) int64 {
	seconds := int64(ntp>>32) - ntpUnixEpochOffsetSeconds
	frac := ntp & 0xFFFFFFFF
	fracUs := int64(frac) * 1_000_000 / (1 << 32)
	return seconds*1_000_000 + fracUs
}

// EstimateClockDrift returns the current drift estimate, or false if fewer
// than 10 SR observations have been made.
func (s *SyncManager) EstimateClockDrift() (types.ClockDriftEstimate, bool) {
	return s.drift.Estimate()
}

func (s *SyncManager) currentDriftPPM() float64 {
	if est, ok := s.drift.Estimate(); ok {
		return est.DriftPPM
	}
	return 0
}

// ApplyClockDriftCorrection records the playout-clock correction factor,
// clamping to [0.99, 1.01] per spec. The factor is stored and reported by
// CorrectionFactor; playout timing in PopNextAudioFrame/PopNextVideoFrame
// does not use it.
func (s *SyncManager) ApplyClockDriftCorrection(factor float64) {
	if factor > 1.01 {
		factor = 1.01
	}
	if factor < 0.99 {
		factor = 0.99
	}

	s.mu.Lock()
	s.correctionFactor = factor
	s.mu.Unlock()

	s.log.Debug("applied clock drift correction", logger.Field{Key: "factor", Value: factor})
}

// CorrectionFactor returns the currently applied correction factor.
func (s *SyncManager) CorrectionFactor() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.correctionFactor
}

// GetSyncState reports Unsynced/Syncing/Synced based on SR count and drift
// estimate availability.
func (s *SyncManager) GetSyncState() types.SyncState {
	s.mu.RLock()
	count := s.srCount
	s.mu.RUnlock()

	if count == 0 {
		return types.SyncUnsynced
	}

	if _, ok := s.drift.Estimate(); ok && count >= 2 {
		return types.SyncSynced
	}

	return types.SyncSyncing
}

// syncConfidence derives a [0,1] confidence score from SR observation count,
// estimator confidence, and recent loss/lateness in the audio buffer —
// informational for UX indicators, not a hard gate.
func (s *SyncManager) syncConfidence() float64 {
	s.mu.RLock()
	count := s.srCount
	s.mu.RUnlock()

	srComponent := float64(count) / 10.0
	if srComponent > 1 {
		srComponent = 1
	}

	estimatorComponent := 0.5
	if est, ok := s.drift.Estimate(); ok {
		estimatorComponent = est.Confidence
	}

	lossComponent := 1.0
	if stats := s.audioBuffer.Stats(); stats.EstimatedLossPct > 0 {
		lossComponent = 1 - stats.EstimatedLossPct/100
		if lossComponent < 0 {
			lossComponent = 0
		}
	}

	confidence := (srComponent + estimatorComponent + lossComponent) / 3
	if confidence > 1 {
		confidence = 1
	}
	if confidence < 0 {
		confidence = 0
	}

	return confidence
}

// AdaptBuffers nudges both jitter buffers' adaptive delay; call roughly once
// per second from the owning PeerConnection's driver loop.
func (s *SyncManager) AdaptBuffers() {
	s.audioBuffer.AdaptDelay()
	s.videoBuffer.AdaptDelay()
}

// AudioBufferStats and VideoBufferStats expose get_statistics for metrics.
func (s *SyncManager) AudioBufferStats() Stats { return s.audioBuffer.Stats() }
func (s *SyncManager) VideoBufferStats() Stats { return s.videoBuffer.Stats() }

// Reset clears both jitter buffers, the drift estimator, and the NTP/RTP
// mapping table.
func (s *SyncManager) Reset() {
	s.audioBuffer.Reset()
	s.videoBuffer.Reset()
	s.drift.Reset()

	s.mu.Lock()
	s.audioMapping = ntpRTPMapping{clockRate: audioClockRate}
	s.videoMapping = ntpRTPMapping{clockRate: videoClockRate}
	s.srCount = 0
	s.correctionFactor = 1.0
	s.lastAudioWallClockUs = 0
	s.mu.Unlock()
}
