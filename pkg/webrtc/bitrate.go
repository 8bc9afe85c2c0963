package webrtc

import (
	"sync"
	"time"

	"github.com/zenmesh/transport/pkg/config"
	"github.com/zenmesh/transport/pkg/logger"
)

// BitrateController adapts a peer's target send bitrate to observed packet
// loss from RTCP Receiver Reports: halve on >5% loss, ramp +50% on <1% loss,
// always clamped to the configured min/max. RTT is recorded alongside but
// does not affect the decision.
type BitrateController struct {
	mu sync.RWMutex

	log logger.Logger

	minKbps    int
	maxKbps    int
	currentKbps int

	lossRate float64
	rtt      time.Duration
}

// NewBitrateController constructs a controller seeded at the configured
// target bitrate.
func NewBitrateController(policy config.BitratePolicy, log logger.Logger) *BitrateController {
	return &BitrateController{
		log:         log,
		minKbps:     policy.MinBitrateKbps,
		maxKbps:     policy.MaxBitrateKbps,
		currentKbps: policy.TargetBitrateKbps,
	}
}

// Update folds in a fresh loss-rate/RTT sample and returns the newly
// recommended bitrate in kbps.
func (c *BitrateController) Update(lossRate float64, rtt time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lossRate = lossRate
	c.rtt = rtt

	switch {
	case lossRate > 0.05:
		c.currentKbps = c.currentKbps / 2
	case lossRate < 0.01:
		c.currentKbps = c.currentKbps + c.currentKbps/2
	}

	if c.currentKbps < c.minKbps {
		c.currentKbps = c.minKbps
	}
	if c.currentKbps > c.maxKbps {
		c.currentKbps = c.maxKbps
	}

	c.log.Debug("adjusted bitrate",
		logger.Int("bitrate_kbps", c.currentKbps),
		logger.Any("loss_rate", lossRate),
		logger.Duration("rtt", rtt),
	)

	return c.currentKbps
}

// CurrentKbps returns the controller's last recommended bitrate.
func (c *BitrateController) CurrentKbps() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentKbps
}

// LossRate returns the most recently observed loss rate.
func (c *BitrateController) LossRate() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lossRate
}

// RTT returns the most recently observed round-trip time.
func (c *BitrateController) RTT() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rtt
}

// Reset restores the controller to its configured target bitrate.
func (c *BitrateController) Reset(targetKbps int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentKbps = targetKbps
	c.lossRate = 0
	c.rtt = 0
}
