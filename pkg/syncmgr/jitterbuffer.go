// Package syncmgr turns arriving RTP frames into monotone, jitter-smoothed,
// clock-drift-corrected, optionally lip-synced playout frames — the sync
// layer WebRTC itself does not provide across peers.
package syncmgr

import (
	"sort"
	"sync"
	"time"
)

// Entry wraps one buffered payload with the RTP sequence number and the
// wall-clock playout time computed for it via the SR-derived RTP<->wallclock
// mapping.
type Entry[T any] struct {
	Sequence    uint16
	WallClockUs int64
	ArrivalTime time.Time
	Payload     T
}

// JitterBufferConfig bounds the buffer's target and maximum delay.
type JitterBufferConfig struct {
	TargetDelayMs int // baseline playout delay, range 50-200
	MaxBufferMs   int // frames older than local_clock - MaxBufferMs are discarded
	MinDelayMs    int // adaptation floor, defaults to TargetDelayMs if zero
	MaxDelayMs    int // adaptation ceiling, defaults to MaxBufferMs if zero
	AdaptStepMs   int // max growth/shrink per adaptation interval (<=10ms)
}

// JitterBuffer is an ordered reordering buffer keyed by RTP sequence number,
// holding frames until their target playout time arrives. Insertion is
// O(log n) via binary search; Pop is O(1).
type JitterBuffer[T any] struct {
	mu sync.Mutex

	cfg JitterBufferConfig

	entries []*Entry[T]

	currentDelayMs int

	stats bufferStats

	// adaptation bookkeeping
	underrunStreak int
	healthyStreak  int
}

type bufferStats struct {
	peakFrames     int
	dropped        uint64
	latePackets    uint64
	bufferOverruns uint64
	delaySamples   []int
}

// NewJitterBuffer constructs a buffer with the given configuration,
// defaulting adaptation bounds that are left unset.
func NewJitterBuffer[T any](cfg JitterBufferConfig) *JitterBuffer[T] {
	if cfg.MinDelayMs == 0 {
		cfg.MinDelayMs = cfg.TargetDelayMs
	}
	if cfg.MaxDelayMs == 0 {
		cfg.MaxDelayMs = cfg.MaxBufferMs
	}
	if cfg.AdaptStepMs == 0 || cfg.AdaptStepMs > 10 {
		cfg.AdaptStepMs = 10
	}

	return &JitterBuffer[T]{
		cfg:            cfg,
		currentDelayMs: cfg.TargetDelayMs,
	}
}

// seqLess reports whether sequence a precedes b, treating the 16-bit space
// as wrapping: the comparison is based on the signed difference a-b, which
// is correct for sequences within 2^15 of each other.
func seqLess(a, b uint16) bool {
	return int16(a-b) < 0
}

// Insert adds a frame keyed by sequence number and wall-clock playout time.
// It returns false (and does not insert) if the frame is already too old:
// older than localClockUs - MaxBufferMs.
func (jb *JitterBuffer[T]) Insert(sequence uint16, wallClockUs int64, payload T, localClockUs int64) bool {
	jb.mu.Lock()
	defer jb.mu.Unlock()

	cutoff := localClockUs - int64(jb.cfg.MaxBufferMs)*1000
	if wallClockUs < cutoff {
		jb.stats.dropped++
		jb.stats.latePackets++
		return false
	}

	entry := &Entry[T]{Sequence: sequence, WallClockUs: wallClockUs, ArrivalTime: time.Now(), Payload: payload}

	idx := sort.Search(len(jb.entries), func(i int) bool {
		return !seqLess(jb.entries[i].Sequence, sequence)
	})

	// Reject exact-sequence duplicates (retransmits / reordered dupes).
	if idx < len(jb.entries) && jb.entries[idx].Sequence == sequence {
		return false
	}

	jb.entries = append(jb.entries, nil)
	copy(jb.entries[idx+1:], jb.entries[idx:])
	jb.entries[idx] = entry

	if len(jb.entries) > jb.stats.peakFrames {
		jb.stats.peakFrames = len(jb.entries)
	}

	return true
}

// PopNext returns the head entry if it has reached its target playout time
// given localClockUs, or if the buffer is about to overflow MaxBufferMs.
// Otherwise it returns (nil, false) without removing anything.
func (jb *JitterBuffer[T]) PopNext(localClockUs int64) (*Entry[T], bool) {
	jb.mu.Lock()
	defer jb.mu.Unlock()

	if len(jb.entries) == 0 {
		jb.recordUnderrun()
		return nil, false
	}

	head := jb.entries[0]
	ready := localClockUs >= head.WallClockUs+int64(jb.currentDelayMs)*1000
	overflowing := len(jb.entries) > 1 &&
		localClockUs-head.WallClockUs > int64(jb.cfg.MaxBufferMs)*1000

	if !ready && !overflowing {
		jb.recordUnderrun()
		return nil, false
	}

	if overflowing {
		jb.stats.bufferOverruns++
	}

	jb.entries = jb.entries[1:]
	jb.recordHealthy(localClockUs - head.WallClockUs)

	return head, true
}

// recordUnderrun and recordHealthy feed the delay-adaptation controller;
// callers drive actual adaptation via AdaptDelay on a ~1s tick. An empty
// buffer is itself the strongest underrun signal, so it counts too.
func (jb *JitterBuffer[T]) recordUnderrun() {
	jb.underrunStreak++
	jb.healthyStreak = 0
}

func (jb *JitterBuffer[T]) recordHealthy(delayUs int64) {
	jb.healthyStreak++
	jb.underrunStreak = 0
	jb.stats.delaySamples = append(jb.stats.delaySamples, int(delayUs/1000))
	if len(jb.stats.delaySamples) > 100 {
		jb.stats.delaySamples = jb.stats.delaySamples[1:]
	}
}

// AdaptDelay nudges currentDelayMs toward max on sustained underrun and
// toward the configured baseline on sustained health, by at most
// cfg.AdaptStepMs per call. Call roughly once per second.
func (jb *JitterBuffer[T]) AdaptDelay() {
	jb.mu.Lock()
	defer jb.mu.Unlock()

	const sustainedThreshold = 3

	switch {
	case jb.underrunStreak >= sustainedThreshold:
		jb.currentDelayMs += jb.cfg.AdaptStepMs
		if jb.currentDelayMs > jb.cfg.MaxDelayMs {
			jb.currentDelayMs = jb.cfg.MaxDelayMs
		}
		jb.underrunStreak = 0
	case jb.healthyStreak >= sustainedThreshold*4:
		if jb.currentDelayMs > jb.cfg.TargetDelayMs {
			jb.currentDelayMs -= jb.cfg.AdaptStepMs
			if jb.currentDelayMs < jb.cfg.MinDelayMs {
				jb.currentDelayMs = jb.cfg.MinDelayMs
			}
		}
		jb.healthyStreak = 0
	}
}

// Len reports how many frames are currently buffered.
func (jb *JitterBuffer[T]) Len() int {
	jb.mu.Lock()
	defer jb.mu.Unlock()
	return len(jb.entries)
}

// CurrentDelayMs reports the current (possibly adapted) target delay.
func (jb *JitterBuffer[T]) CurrentDelayMs() int {
	jb.mu.Lock()
	defer jb.mu.Unlock()
	return jb.currentDelayMs
}

// Stats returns a point-in-time snapshot for get_statistics.
func (jb *JitterBuffer[T]) Stats() Stats {
	jb.mu.Lock()
	defer jb.mu.Unlock()

	var avg float64
	if n := len(jb.stats.delaySamples); n > 0 {
		sum := 0
		for _, v := range jb.stats.delaySamples {
			sum += v
		}
		avg = float64(sum) / float64(n)
	}

	var lossPct float64
	total := jb.stats.dropped + uint64(len(jb.entries))
	if total > 0 {
		lossPct = float64(jb.stats.dropped) / float64(total) * 100
	}

	return Stats{
		CurrentFrames:    len(jb.entries),
		PeakFrames:       jb.stats.peakFrames,
		Dropped:          jb.stats.dropped,
		LatePackets:      jb.stats.latePackets,
		BufferOverruns:   jb.stats.bufferOverruns,
		CurrentDelayMs:   jb.currentDelayMs,
		AverageDelayMs:   avg,
		EstimatedLossPct: lossPct,
	}
}

// Reset clears all buffered frames and bookkeeping.
func (jb *JitterBuffer[T]) Reset() {
	jb.mu.Lock()
	defer jb.mu.Unlock()

	jb.entries = nil
	jb.stats = bufferStats{}
	jb.currentDelayMs = jb.cfg.TargetDelayMs
	jb.underrunStreak = 0
	jb.healthyStreak = 0
}

// Stats has the same fields as types.JitterBufferStats.
type Stats struct {
	CurrentFrames    int
	PeakFrames       int
	Dropped          uint64
	LatePackets      uint64
	BufferOverruns   uint64
	CurrentDelayMs   int
	AverageDelayMs   float64
	EstimatedLossPct float64
}
