package syncmgr

import (
	"testing"
	"time"

	"github.com/zenmesh/transport/pkg/logger"
	"github.com/zenmesh/transport/pkg/types"
)

func testLogger() logger.Logger {
	return logger.NewDefaultLogger(logger.ErrorLevel, "text")
}

func newTestSyncManager() *SyncManager {
	sm := NewSyncManager(Config{JitterBufferTargetMs: 50, MaxBufferMs: 500}, testLogger())
	return sm
}

// fakeClock lets tests advance the SyncManager's local clock deterministically.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestSyncManagerStartsUnsynced(t *testing.T) {
	sm := newTestSyncManager()
	if got := sm.GetSyncState(); got != types.SyncUnsynced {
		t.Fatalf("expected Unsynced before any SR, got %v", got)
	}
}

func TestSyncManagerProcessAndPopAudioFrame(t *testing.T) {
	sm := newTestSyncManager()

	clock := &fakeClock{t: time.Unix(1000, 0)}
	sm.now = clock.now

	frame := types.AudioFrame{
		RTPTimestamp: 48000,
		RTPSequence:  1,
		SampleRate:   48000,
		ArrivalTime:  clock.now(),
	}

	if ok := sm.ProcessAudioFrame(frame); !ok {
		t.Fatal("expected frame to be accepted")
	}

	// Not yet past the target delay.
	if _, ok := sm.PopNextAudioFrame(); ok {
		t.Fatal("frame should not be ready immediately")
	}

	clock.advance(60 * time.Millisecond)

	synced, ok := sm.PopNextAudioFrame()
	if !ok {
		t.Fatal("expected frame to be ready after target delay elapses")
	}
	if synced.RTPTimestamp != frame.RTPTimestamp {
		t.Fatalf("rtp timestamp mismatch: got %d want %d", synced.RTPTimestamp, frame.RTPTimestamp)
	}
	if synced.SyncConfidence < 0 || synced.SyncConfidence > 1 {
		t.Fatalf("sync confidence %f out of [0,1]", synced.SyncConfidence)
	}
}

func TestSyncManagerSyncStateAdvancesWithSenderReports(t *testing.T) {
	sm := newTestSyncManager()

	clock := &fakeClock{t: time.Unix(2000, 0)}
	sm.now = clock.now

	ntpBase := uint64(2208988800+2000) << 32

	for i := 0; i < 12; i++ {
		clock.advance(time.Second)
		sr := types.RtcpSenderReport{
			NTPTimestamp: ntpBase + (uint64(i+1) << 32),
			RTPTimestamp: uint32(48000 * (i + 1)),
			ReceivedAt:   clock.now(),
		}
		sm.UpdateRTCPSenderReport(sr, true)
	}

	if got := sm.GetSyncState(); got != types.SyncSynced {
		t.Fatalf("expected Synced after >=10 SRs, got %v", got)
	}

	if _, ok := sm.EstimateClockDrift(); !ok {
		t.Fatal("expected a drift estimate to be available")
	}
}

func TestSyncManagerApplyClockDriftCorrectionClamps(t *testing.T) {
	sm := newTestSyncManager()

	sm.ApplyClockDriftCorrection(5.0)
	if got := sm.CorrectionFactor(); got != 1.01 {
		t.Fatalf("expected correction factor clamped to 1.01, got %f", got)
	}

	sm.ApplyClockDriftCorrection(-5.0)
	if got := sm.CorrectionFactor(); got != 0.99 {
		t.Fatalf("expected correction factor clamped to 0.99, got %f", got)
	}
}

func TestSyncManagerVideoFrameComputesAudioSyncOffset(t *testing.T) {
	sm := newTestSyncManager()

	clock := &fakeClock{t: time.Unix(3000, 0)}
	sm.now = clock.now

	audioFrame := types.AudioFrame{RTPTimestamp: 48000, RTPSequence: 1, SampleRate: 48000, ArrivalTime: clock.now()}
	sm.ProcessAudioFrame(audioFrame)
	clock.advance(60 * time.Millisecond)
	if _, ok := sm.PopNextAudioFrame(); !ok {
		t.Fatal("expected audio frame to pop")
	}

	videoFrame := types.VideoFrame{RTPTimestamp: 90000, RTPSequence: 1, Width: 1280, Height: 720, ArrivalTime: clock.now()}
	sm.ProcessVideoFrame(videoFrame)
	clock.advance(60 * time.Millisecond)

	synced, ok := sm.PopNextVideoFrame()
	if !ok {
		t.Fatal("expected video frame to pop")
	}
	if synced.AudioSyncOffsetMs < -200 || synced.AudioSyncOffsetMs > 200 {
		t.Fatalf("audio sync offset implausible: %f", synced.AudioSyncOffsetMs)
	}
}

func TestSyncManagerResetClearsState(t *testing.T) {
	sm := newTestSyncManager()

	clock := &fakeClock{t: time.Unix(4000, 0)}
	sm.now = clock.now

	sr := types.RtcpSenderReport{
		NTPTimestamp: uint64(2208988800+4000) << 32,
		RTPTimestamp: 48000,
		ReceivedAt:   clock.now(),
	}
	sm.UpdateRTCPSenderReport(sr, true)
	sm.ApplyClockDriftCorrection(1.005)

	sm.Reset()

	if got := sm.GetSyncState(); got != types.SyncUnsynced {
		t.Fatalf("expected Unsynced after reset, got %v", got)
	}
	if got := sm.CorrectionFactor(); got != 1.0 {
		t.Fatalf("expected correction factor reset to 1.0, got %f", got)
	}
}
