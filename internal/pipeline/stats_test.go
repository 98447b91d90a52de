package pipeline

import (
	"testing"
	"time"
)

func TestStats_Empty(t *testing.T) {
	s := NewStats(10)

	snap := s.Snapshot()
	if snap.Analysis.P50 != 0 || snap.Analysis.P95 != 0 {
		t.Errorf("empty percentiles = %+v, want zeros", snap.Analysis)
	}
	if snap.Analyzed != 0 || snap.Dropped != 0 || snap.Skipped != 0 {
		t.Errorf("empty counters = %+v, want zeros", snap)
	}
}

func TestStats_Percentiles(t *testing.T) {
	s := NewStats(100)

	// 1..100 ms: p50 is 50ms, p95 is 95ms under nearest-rank.
	for i := 1; i <= 100; i++ {
		s.RecordAnalysis(time.Duration(i)*time.Millisecond, false)
	}

	snap := s.Snapshot()
	if snap.Analysis.P50 != 50*time.Millisecond {
		t.Errorf("P50 = %v, want 50ms", snap.Analysis.P50)
	}
	if snap.Analysis.P95 != 95*time.Millisecond {
		t.Errorf("P95 = %v, want 95ms", snap.Analysis.P95)
	}
	if snap.Analyzed != 100 {
		t.Errorf("Analyzed = %d, want 100", snap.Analyzed)
	}
}

func TestStats_WindowEviction(t *testing.T) {
	s := NewStats(4)

	// The first (slow) sample is evicted by four fast ones.
	s.RecordAnalysis(time.Second, true)
	for range 4 {
		s.RecordAnalysis(time.Millisecond, false)
	}

	snap := s.Snapshot()
	if snap.Analysis.P95 != time.Millisecond {
		t.Errorf("P95 = %v, want 1ms after eviction", snap.Analysis.P95)
	}
	// Counters are cumulative, not windowed.
	if snap.Analyzed != 5 || snap.Overruns != 1 {
		t.Errorf("counters = %+v, want analyzed 5, overruns 1", snap)
	}
}

func TestStats_Reset(t *testing.T) {
	s := NewStats(10)
	s.RecordAnalysis(time.Millisecond, true)
	s.IncrDropped()
	s.IncrSkipped()

	s.Reset()

	snap := s.Snapshot()
	if snap.Analyzed != 0 || snap.Dropped != 0 || snap.Skipped != 0 || snap.Overruns != 0 {
		t.Errorf("counters after reset = %+v, want zeros", snap)
	}
	if snap.Analysis.P50 != 0 {
		t.Errorf("P50 after reset = %v, want 0", snap.Analysis.P50)
	}
}
