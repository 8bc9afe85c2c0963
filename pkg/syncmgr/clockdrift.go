package syncmgr

import (
	"sync"

	"github.com/zenmesh/transport/pkg/types"
)

// minDriftObservations is the smallest sample size the estimator will
// produce a drift estimate from.
const minDriftObservations = 10

type driftObservation struct {
	elapsedUs int64 // receiver monotonic time since the first observation
	offsetUs  int64 // sender NTP wall time minus receiver monotonic time
}

// ClockDriftEstimator accumulates (sender NTP timestamp, receiver monotonic
// arrival time) pairs from RTCP Sender Reports and fits a linear model of
// offset-vs-elapsed-time to estimate the sender/receiver clock drift in
// parts-per-million.
type ClockDriftEstimator struct {
	mu sync.Mutex

	observations  []driftObservation
	firstReceiver int64
	haveFirst     bool

	last types.ClockDriftEstimate
	have bool
}

// NewClockDriftEstimator constructs an empty estimator.
func NewClockDriftEstimator() *ClockDriftEstimator {
	return &ClockDriftEstimator{}
}

// Observe records one (sender NTP us, receiver monotonic us) pair.
func (e *ClockDriftEstimator) Observe(senderNTPUs, receiverMonotonicUs int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.haveFirst {
		e.firstReceiver = receiverMonotonicUs
		e.haveFirst = true
	}

	e.observations = append(e.observations, driftObservation{
		elapsedUs: receiverMonotonicUs - e.firstReceiver,
		offsetUs:  senderNTPUs - receiverMonotonicUs,
	})

	// Bound memory: a rolling window is enough for a meaningful recent-drift fit.
	const maxObservations = 256
	if len(e.observations) > maxObservations {
		e.observations = e.observations[len(e.observations)-maxObservations:]
	}
}

// Estimate computes drift in ppm via least-squares regression of offset vs
// elapsed time. Returns (estimate, false) when fewer than 10 observations
// have been recorded.
func (e *ClockDriftEstimator) Estimate() (types.ClockDriftEstimate, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := len(e.observations)
	if n < minDriftObservations {
		return types.ClockDriftEstimate{}, false
	}

	var sumX, sumY, sumXY, sumXX float64
	for _, o := range e.observations {
		x := float64(o.elapsedUs)
		y := float64(o.offsetUs)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	nf := float64(n)
	denom := nf*sumXX - sumX*sumX
	var slope float64
	if denom != 0 {
		slope = (nf*sumXY - sumX*sumY) / denom
	}

	// slope is (us offset)/(us elapsed): a dimensionless rate. 1e6x it for ppm.
	driftPPM := slope * 1e6

	meanX := sumX / nf
	meanY := sumY / nf
	intercept := meanY - slope*meanX

	var residualSumSq, totalSumSq float64
	for _, o := range e.observations {
		x := float64(o.elapsedUs)
		y := float64(o.offsetUs)
		predicted := slope*x + intercept
		residualSumSq += (y - predicted) * (y - predicted)
		totalSumSq += (y - meanY) * (y - meanY)
	}

	var rSquared float64
	if totalSumSq > 0 {
		rSquared = 1 - residualSumSq/totalSumSq
	} else {
		rSquared = 1
	}
	if rSquared < 0 {
		rSquared = 0
	}

	sampleConfidence := nf / (nf + minDriftObservations) // asymptotes to 1
	confidence := rSquared * sampleConfidence

	correctionFactor := 1 + driftPPM*1e-6
	if correctionFactor > 1.01 {
		correctionFactor = 1.01
	}
	if correctionFactor < 0.99 {
		correctionFactor = 0.99
	}

	estimate := types.ClockDriftEstimate{
		DriftPPM:         driftPPM,
		SampleCount:      n,
		CorrectionFactor: correctionFactor,
		Confidence:       confidence,
		Action:           recommendedAction(driftPPM),
	}

	e.last = estimate
	e.have = true

	return estimate, true
}

func recommendedAction(driftPPM float64) types.RecommendedAction {
	abs := driftPPM
	if abs < 0 {
		abs = -abs
	}

	switch {
	case abs < 10:
		return types.ActionNone
	case abs < 100:
		return types.ActionMonitor
	case abs < 500:
		return types.ActionAdjust
	default:
		return types.ActionInvestigate
	}
}

// Reset clears all observations.
func (e *ClockDriftEstimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.observations = nil
	e.haveFirst = false
	e.have = false
}
