package pipeline

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Stats collects analysis latency samples and pipeline counters for the
// status endpoint. It maintains a bounded ring buffer of recent latency
// observations from which percentiles are computed on demand.
//
// Thread-safe for concurrent use.
type Stats struct {
	mu sync.Mutex

	analysis latencyBuffer

	analyzed int64
	skipped  int64
	dropped  int64
	overruns int64
}

// NewStats creates a Stats with the given window size (maximum number of
// latency samples retained).
func NewStats(windowSize int) *Stats {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &Stats{analysis: newLatencyBuffer(windowSize)}
}

// RecordAnalysis records one completed analysis.
func (s *Stats) RecordAnalysis(d time.Duration, overrun bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analysis.add(d)
	s.analyzed++
	if overrun {
		s.overruns++
	}
}

// IncrSkipped increments the invalid-frame counter.
func (s *Stats) IncrSkipped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipped++
}

// IncrDropped increments the backpressure-drop counter.
func (s *Stats) IncrDropped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped++
}

// LatencyPercentiles holds p50 and p95 values for the analysis stage.
type LatencyPercentiles struct {
	P50 time.Duration `json:"p50"`
	P95 time.Duration `json:"p95"`
}

// StatsSnapshot captures a point-in-time view of all pipeline statistics.
type StatsSnapshot struct {
	Analysis LatencyPercentiles `json:"analysis_latency"`
	Analyzed int64              `json:"frames_analyzed"`
	Skipped  int64              `json:"frames_skipped"`
	Dropped  int64              `json:"frames_dropped"`
	Overruns int64              `json:"analysis_overruns"`
}

// Snapshot returns a point-in-time view of all pipeline statistics.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return StatsSnapshot{
		Analysis: s.analysis.percentiles(),
		Analyzed: s.analyzed,
		Skipped:  s.skipped,
		Dropped:  s.dropped,
		Overruns: s.overruns,
	}
}

// Reset clears all counters and samples. Called on session restart.
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.analysis = newLatencyBuffer(s.analysis.size)
	s.analyzed = 0
	s.skipped = 0
	s.dropped = 0
	s.overruns = 0
}

// latencyBuffer is a bounded ring buffer of duration samples.
type latencyBuffer struct {
	data []time.Duration
	size int
	pos  int
	full bool
}

func newLatencyBuffer(size int) latencyBuffer {
	return latencyBuffer{
		data: make([]time.Duration, size),
		size: size,
	}
}

func (lb *latencyBuffer) add(d time.Duration) {
	lb.data[lb.pos] = d
	lb.pos++
	if lb.pos >= lb.size {
		lb.pos = 0
		lb.full = true
	}
}

func (lb *latencyBuffer) percentiles() LatencyPercentiles {
	n := lb.pos
	if lb.full {
		n = lb.size
	}
	if n == 0 {
		return LatencyPercentiles{}
	}

	sorted := make([]time.Duration, n)
	if lb.full {
		copy(sorted, lb.data)
	} else {
		copy(sorted, lb.data[:n])
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return LatencyPercentiles{
		P50: percentile(sorted, 0.50),
		P95: percentile(sorted, 0.95),
	}
}

// percentile returns the value at the given percentile (0.0-1.0) from a
// sorted slice of durations using nearest-rank.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
