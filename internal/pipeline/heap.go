package pipeline

import "github.com/hearguard/hearguard/internal/analyzer"

// outcome is one per-frame verdict travelling from a worker (or the feeder,
// for dropped frames) to the merge goroutine. Exactly one outcome exists per
// sequence number, so the merge can release results in capture order without
// stalling on gaps.
type outcome struct {
	seq     uint64
	res     analyzer.Result
	skipped bool // frame rejected for invalid sample data
	dropped bool // frame discarded by queue backpressure
}

// outcomeHeap implements [container/heap.Interface] as a min-heap ordered by
// sequence number. The merge goroutine uses it to restore capture order over
// results arriving out of order from concurrent workers.
type outcomeHeap []outcome

func (h outcomeHeap) Len() int { return len(h) }

// Less reports whether element i should be released before element j.
func (h outcomeHeap) Less(i, j int) bool { return h[i].seq < h[j].seq }

func (h outcomeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push appends x to the heap. Called by [container/heap.Push]; callers must
// not invoke this directly.
func (h *outcomeHeap) Push(x any) {
	*h = append(*h, x.(outcome))
}

// Pop removes and returns the last element. Called by [container/heap.Pop];
// callers must not invoke this directly.
func (h *outcomeHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
