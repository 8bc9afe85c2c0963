package quality

import (
	"testing"
	"time"

	"github.com/zenmesh/transport/pkg/logger"
	"github.com/zenmesh/transport/pkg/types"
)

func testMonitor() *Monitor {
	return NewMonitor(logger.NewDefaultLogger(logger.ErrorLevel, "text"))
}

func TestRecordComputesHighScoreForCleanLink(t *testing.T) {
	m := testMonitor()
	s := m.Record(types.PeerID("peer-a"), 0.0, 5*time.Millisecond, 30*time.Millisecond, 4000)

	if s.Level != LevelHigh {
		t.Fatalf("expected high level for a clean link, got %s (score %d)", s.Level, s.Score)
	}
}

func TestRecordComputesLowScoreForDegradedLink(t *testing.T) {
	m := testMonitor()
	s := m.Record(types.PeerID("peer-a"), 0.15, 150*time.Millisecond, 600*time.Millisecond, 100)

	if s.Level != LevelLow {
		t.Fatalf("expected low level for a degraded link, got %s (score %d)", s.Level, s.Score)
	}
}

func TestCurrentReturnsLatestSample(t *testing.T) {
	m := testMonitor()
	m.Record(types.PeerID("peer-a"), 0.0, 0, 20*time.Millisecond, 4000)
	m.Record(types.PeerID("peer-a"), 0.2, 150*time.Millisecond, 600*time.Millisecond, 100)

	s, ok := m.Current(types.PeerID("peer-a"))
	if !ok {
		t.Fatal("expected a current sample")
	}
	if s.Level != LevelLow {
		t.Fatalf("expected current sample to reflect the latest record, got %s", s.Level)
	}
}

func TestHistoryCapsAtMaxSize(t *testing.T) {
	m := testMonitor()
	for i := 0; i < 40; i++ {
		m.Record(types.PeerID("peer-a"), 0.0, 0, 20*time.Millisecond, 4000)
	}

	hist := m.History(types.PeerID("peer-a"), 0)
	if len(hist) != m.maxHistorySize {
		t.Fatalf("expected history capped at %d, got %d", m.maxHistorySize, len(hist))
	}
}

func TestOnLevelChangeFiresOnTransition(t *testing.T) {
	m := testMonitor()
	changed := make(chan Sample, 1)
	m.OnLevelChange(func(id types.PeerID, sample Sample) { changed <- sample })

	m.Record(types.PeerID("peer-a"), 0.0, 0, 20*time.Millisecond, 4000)
	m.Record(types.PeerID("peer-a"), 0.2, 150*time.Millisecond, 600*time.Millisecond, 100)

	select {
	case s := <-changed:
		if s.Level != LevelLow {
			t.Fatalf("expected callback to report new low level, got %s", s.Level)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for level change callback")
	}
}

func TestRemoveClearsPeerData(t *testing.T) {
	m := testMonitor()
	m.Record(types.PeerID("peer-a"), 0.0, 0, 20*time.Millisecond, 4000)
	m.Remove(types.PeerID("peer-a"))

	if _, ok := m.Current(types.PeerID("peer-a")); ok {
		t.Fatal("expected current sample to be cleared after Remove")
	}
	if hist := m.History(types.PeerID("peer-a"), 0); hist != nil {
		t.Fatalf("expected nil history after Remove, got %v", hist)
	}
}

func TestSessionAverageAcrossPeers(t *testing.T) {
	m := testMonitor()
	m.Record(types.PeerID("peer-a"), 0.0, 0, 20*time.Millisecond, 4000)
	m.Record(types.PeerID("peer-b"), 0.2, 150*time.Millisecond, 600*time.Millisecond, 100)

	avg, ok := m.SessionAverage()
	if !ok {
		t.Fatal("expected a session average with 2 tracked peers")
	}
	if avg.PacketLoss <= 0 || avg.PacketLoss >= 0.2 {
		t.Fatalf("expected averaged packet loss between the two samples, got %f", avg.PacketLoss)
	}
}

func TestSessionAverageEmptyWhenNoPeers(t *testing.T) {
	m := testMonitor()
	if _, ok := m.SessionAverage(); ok {
		t.Fatal("expected no session average with zero tracked peers")
	}
}
