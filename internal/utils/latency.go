package utils

import (
	"sort"
	"sync"
	"time"
)

// LatencyTracker keeps the most recent handling durations in a ring and reports percentiles.
type LatencyTracker struct {
	mu     sync.Mutex
	ring   []time.Duration
	next   int
	filled bool
	total  int
}

// NewLatencyTracker creates a tracker retaining up to size samples.
func NewLatencyTracker(size int) *LatencyTracker {
	if size <= 0 {
		size = 512
	}
	return &LatencyTracker{ring: make([]time.Duration, size)}
}

// Observe records a new duration, overwriting the oldest once the ring is full.
func (l *LatencyTracker) Observe(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ring[l.next] = d
	l.next = (l.next + 1) % len(l.ring)
	if l.next == 0 {
		l.filled = true
	}
	l.total++
}

// Count returns the number of retained samples.
func (l *LatencyTracker) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size()
}

// Total returns how many samples were ever observed.
func (l *LatencyTracker) Total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Percentile returns the p-th percentile (0-100) of retained samples, zero when empty.
func (l *LatencyTracker) Percentile(p float64) time.Duration {
	l.mu.Lock()
	n := l.size()
	sorted := append([]time.Duration(nil), l.ring[:n]...)
	l.mu.Unlock()

	if n == 0 {
		return 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	switch {
	case p <= 0:
		return sorted[0]
	case p >= 100:
		return sorted[n-1]
	}
	return sorted[int((p/100.0)*float64(n-1))]
}

func (l *LatencyTracker) size() int {
	if l.filled {
		return len(l.ring)
	}
	return l.next
}
