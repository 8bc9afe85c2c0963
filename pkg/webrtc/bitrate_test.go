package webrtc

import (
	"testing"
	"time"

	"github.com/zenmesh/transport/pkg/config"
	"github.com/zenmesh/transport/pkg/logger"
)

func testBitratePolicy() config.BitratePolicy {
	return config.BitratePolicy{
		AdaptiveEnabled:   true,
		TargetBitrateKbps: 1000,
		MinBitrateKbps:    100,
		MaxBitrateKbps:    4000,
	}
}

func TestBitrateControllerHalvesOnHighLoss(t *testing.T) {
	c := NewBitrateController(testBitratePolicy(), logger.NewDefaultLogger(logger.ErrorLevel, "text"))

	got := c.Update(0.08, 50*time.Millisecond)
	if got != 500 {
		t.Fatalf("expected bitrate halved to 500, got %d", got)
	}
}

func TestBitrateControllerRampsUpOnLowLoss(t *testing.T) {
	c := NewBitrateController(testBitratePolicy(), logger.NewDefaultLogger(logger.ErrorLevel, "text"))

	got := c.Update(0.005, 20*time.Millisecond)
	if got != 1500 {
		t.Fatalf("expected bitrate ramped to 1500, got %d", got)
	}
}

func TestBitrateControllerClampsToConfiguredRange(t *testing.T) {
	c := NewBitrateController(testBitratePolicy(), logger.NewDefaultLogger(logger.ErrorLevel, "text"))

	for i := 0; i < 10; i++ {
		c.Update(0.08, 10*time.Millisecond)
	}
	if got := c.CurrentKbps(); got < 100 {
		t.Fatalf("bitrate %d fell below configured minimum 100", got)
	}

	c.Reset(1000)
	for i := 0; i < 10; i++ {
		c.Update(0.0, 10*time.Millisecond)
	}
	if got := c.CurrentKbps(); got > 4000 {
		t.Fatalf("bitrate %d exceeded configured maximum 4000", got)
	}
}

func TestBitrateControllerHoldsSteadyInMidRange(t *testing.T) {
	c := NewBitrateController(testBitratePolicy(), logger.NewDefaultLogger(logger.ErrorLevel, "text"))

	got := c.Update(0.03, 100*time.Millisecond)
	if got != 1000 {
		t.Fatalf("expected bitrate unchanged at 1000 for mid-range loss, got %d", got)
	}
}
