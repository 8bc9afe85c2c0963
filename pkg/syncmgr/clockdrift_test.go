package syncmgr

import (
	"math"
	"testing"

	"github.com/zenmesh/transport/pkg/types"
)

func TestClockDriftEstimatorRequiresMinimumSamples(t *testing.T) {
	e := NewClockDriftEstimator()

	for i := 0; i < minDriftObservations-1; i++ {
		e.Observe(int64(i)*1_000_000, int64(i)*1_000_000)
	}
	if _, ok := e.Estimate(); ok {
		t.Fatal("expected no estimate below the minimum sample count")
	}

	e.Observe(int64(minDriftObservations)*1_000_000, int64(minDriftObservations)*1_000_000)
	if _, ok := e.Estimate(); !ok {
		t.Fatal("expected an estimate once the minimum sample count is reached")
	}
}

func TestClockDriftEstimatorRecoversSyntheticDrift(t *testing.T) {
	e := NewClockDriftEstimator()

	const driftPPM = 150.0
	const factor = 1 + driftPPM*1e-6

	for i := 0; i < 20; i++ {
		receiverUs := int64(i) * 1_000_000
		senderUs := int64(float64(receiverUs) * factor)
		e.Observe(senderUs, receiverUs)
	}

	est, ok := e.Estimate()
	if !ok {
		t.Fatal("expected an estimate")
	}

	if math.Abs(est.DriftPPM-driftPPM) > 5 {
		t.Fatalf("drift estimate %f too far from injected %f", est.DriftPPM, driftPPM)
	}
	if est.Action != types.ActionAdjust {
		t.Fatalf("expected Adjust action for ~150ppm drift, got %v", est.Action)
	}
	if est.CorrectionFactor < 0.99 || est.CorrectionFactor > 1.01 {
		t.Fatalf("correction factor %f out of clamp range", est.CorrectionFactor)
	}
}

func TestRecommendedActionThresholds(t *testing.T) {
	cases := []struct {
		ppm  float64
		want types.RecommendedAction
	}{
		{5, types.ActionNone},
		{50, types.ActionMonitor},
		{300, types.ActionAdjust},
		{1000, types.ActionInvestigate},
		{-1000, types.ActionInvestigate},
	}

	for _, c := range cases {
		if got := recommendedAction(c.ppm); got != c.want {
			t.Errorf("recommendedAction(%f) = %v, want %v", c.ppm, got, c.want)
		}
	}
}

func TestClockDriftEstimatorResetClearsObservations(t *testing.T) {
	e := NewClockDriftEstimator()
	for i := 0; i < minDriftObservations; i++ {
		e.Observe(int64(i)*1_000_000, int64(i)*1_000_000)
	}
	if _, ok := e.Estimate(); !ok {
		t.Fatal("expected estimate before reset")
	}

	e.Reset()
	if _, ok := e.Estimate(); ok {
		t.Fatal("expected no estimate immediately after reset")
	}
}
