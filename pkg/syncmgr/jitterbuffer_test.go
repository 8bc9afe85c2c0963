package syncmgr

import "testing"

func TestJitterBufferReordersBySequence(t *testing.T) {
	jb := NewJitterBuffer[int](JitterBufferConfig{TargetDelayMs: 50, MaxBufferMs: 500})

	base := int64(1_000_000)
	seqs := []uint16{10, 12, 11, 13}
	for i, seq := range seqs {
		ok := jb.Insert(seq, base+int64(seq)*1000, i, base)
		if !ok {
			t.Fatalf("insert seq %d rejected", seq)
		}
	}

	var got []uint16
	for {
		entry, ok := jb.PopNext(base + 100_000_000)
		if !ok {
			break
		}
		got = append(got, entry.Sequence)
	}

	want := []uint16{10, 11, 12, 13}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestJitterBufferHandlesSequenceWraparound(t *testing.T) {
	jb := NewJitterBuffer[int](JitterBufferConfig{TargetDelayMs: 50, MaxBufferMs: 500})

	base := int64(1_000_000)
	// 65534, 65535, 0, 1 should order as given despite the 16-bit wrap.
	seqs := []uint16{65535, 0, 65534, 1}
	for i, seq := range seqs {
		jb.Insert(seq, base+int64(i)*1000, i, base)
	}

	want := []uint16{65534, 65535, 0, 1}
	var got []uint16
	for {
		entry, ok := jb.PopNext(base + 100_000_000)
		if !ok {
			break
		}
		got = append(got, entry.Sequence)
	}

	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestJitterBufferRejectsStaleFrames(t *testing.T) {
	jb := NewJitterBuffer[int](JitterBufferConfig{TargetDelayMs: 50, MaxBufferMs: 200})

	localClock := int64(10_000_000)
	staleWallClock := localClock - 500_000 // 500ms old, beyond MaxBufferMs

	if ok := jb.Insert(1, staleWallClock, 0, localClock); ok {
		t.Fatal("expected stale frame to be rejected")
	}

	stats := jb.Stats()
	if stats.Dropped == 0 {
		t.Fatal("expected dropped counter to increment")
	}
}

func TestJitterBufferRejectsDuplicateSequence(t *testing.T) {
	jb := NewJitterBuffer[int](JitterBufferConfig{TargetDelayMs: 50, MaxBufferMs: 500})

	base := int64(1_000_000)
	if ok := jb.Insert(5, base, 0, base); !ok {
		t.Fatal("first insert should succeed")
	}
	if ok := jb.Insert(5, base, 1, base); ok {
		t.Fatal("duplicate sequence should be rejected")
	}
	if jb.Len() != 1 {
		t.Fatalf("expected 1 buffered entry, got %d", jb.Len())
	}
}

func TestJitterBufferPopWaitsForTargetDelay(t *testing.T) {
	jb := NewJitterBuffer[int](JitterBufferConfig{TargetDelayMs: 50, MaxBufferMs: 500})

	base := int64(1_000_000)
	jb.Insert(1, base, 0, base)

	if _, ok := jb.PopNext(base); ok {
		t.Fatal("frame should not be ready before target delay elapses")
	}
	if _, ok := jb.PopNext(base + 50_000); !ok {
		t.Fatal("frame should be ready once target delay has elapsed")
	}
}

func TestJitterBufferAdaptDelayGrowsOnSustainedUnderrun(t *testing.T) {
	jb := NewJitterBuffer[int](JitterBufferConfig{TargetDelayMs: 50, MaxBufferMs: 500, MaxDelayMs: 200, AdaptStepMs: 10})

	for i := 0; i < 4; i++ {
		jb.PopNext(0) // empty buffer: records underrun
	}
	jb.AdaptDelay()

	if got := jb.CurrentDelayMs(); got <= 50 {
		t.Fatalf("expected delay to grow past baseline, got %d", got)
	}
}

func TestJitterBufferAdaptDelayNeverExceedsMax(t *testing.T) {
	jb := NewJitterBuffer[int](JitterBufferConfig{TargetDelayMs: 50, MaxBufferMs: 500, MaxDelayMs: 60, AdaptStepMs: 10})

	for round := 0; round < 10; round++ {
		for i := 0; i < 4; i++ {
			jb.PopNext(0)
		}
		jb.AdaptDelay()
	}

	if got := jb.CurrentDelayMs(); got > 60 {
		t.Fatalf("delay %d exceeded configured max 60", got)
	}
}
