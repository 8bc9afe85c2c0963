package types

import (
	"time"

	"github.com/zenmesh/transport/pkg/buffer"
)

// AudioFrame is an ingress audio frame as read off an inbound RTP stream,
// before jitter buffering.
type AudioFrame struct {
	RTPTimestamp uint32
	RTPSequence  uint16
	Samples      *buffer.Shared // shared ownership: f32 samples packed as bytes
	SampleRate   int
	Channels     int
	ArrivalTime  time.Time
	PayloadSize  int
}

// VideoFrame is an ingress video frame as read off an inbound RTP stream.
type VideoFrame struct {
	RTPTimestamp uint32
	RTPSequence  uint16
	Width        int
	Height       int
	Format       string
	Planes       *buffer.Shared
	ArrivalTime  time.Time
	Marker       bool
	IsKeyframe   bool
}

// SyncedAudioFrame is emitted by SyncManager once its playout time has arrived.
type SyncedAudioFrame struct {
	Samples         *buffer.Shared
	SampleRate      int // 48000 Hz
	WallClockUs     int64
	RTPTimestamp    uint32
	BufferDelayMs   int
	SyncConfidence  float64 // in [0,1]
	DriftPPM        float64
}

// SyncedVideoFrame is emitted by SyncManager once its playout time has arrived.
type SyncedVideoFrame struct {
	Width             int
	Height            int
	Format            string
	Planes            *buffer.Shared
	WallClockUs       int64
	RTPTimestamp      uint32
	FPSEstimate       float64
	BufferDelayMs     int
	AudioSyncOffsetMs float64 // target: |offset| < 100ms
	SyncConfidence    float64
}

// RtcpSenderReport is the subset of an RTCP SR relevant to cross-stream sync.
type RtcpSenderReport struct {
	NTPTimestamp uint64 // NTP epoch, fixed-point 32.32
	RTPTimestamp uint32
	PacketCount  uint32
	OctetCount   uint32
	SSRC         uint32
	ReceivedAt   time.Time
}

// RtcpReceiverReport is the subset of an RTCP RR that drives adaptive bitrate.
type RtcpReceiverReport struct {
	SSRC              uint32
	FractionLost      uint8
	CumulativeLost    uint32
	InterarrivalJitter uint32
	LastSR            uint32
	DelaySinceLastSR  uint32
	ReceivedAt        time.Time
}

// JitterBufferStats is the live statistics surface for get_statistics.
type JitterBufferStats struct {
	CurrentFrames    int
	PeakFrames       int
	Dropped          uint64
	LatePackets      uint64
	BufferOverruns   uint64
	CurrentDelayMs   int
	AverageDelayMs   float64
	EstimatedLossPct float64
}

// RecommendedAction is the clock-drift estimator's guidance to callers.
type RecommendedAction int

const (
	ActionNone RecommendedAction = iota
	ActionMonitor
	ActionAdjust
	ActionInvestigate
)

func (a RecommendedAction) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionMonitor:
		return "monitor"
	case ActionAdjust:
		return "adjust"
	case ActionInvestigate:
		return "investigate"
	default:
		return "unknown"
	}
}

// ClockDriftEstimate is the output of ClockDriftEstimator once enough
// observations have accumulated.
type ClockDriftEstimate struct {
	DriftPPM         float64
	SampleCount      int
	CorrectionFactor float64 // clamped to [0.99, 1.01]
	Confidence       float64
	Action           RecommendedAction
}

// SyncState reports how far along a SyncManager's RTCP-based synchronization is.
type SyncState int

const (
	SyncUnsynced SyncState = iota // no SR received yet
	SyncSyncing                   // at least one SR, no drift estimate yet
	SyncSynced                    // >= 2 SRs and a drift estimate
)

func (s SyncState) String() string {
	switch s {
	case SyncUnsynced:
		return "unsynced"
	case SyncSyncing:
		return "syncing"
	case SyncSynced:
		return "synced"
	default:
		return "unknown"
	}
}
