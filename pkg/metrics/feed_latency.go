// Package metrics provides in-process latency and pool statistics.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// LatencyTracker keeps the most recent samples in a ring and computes
// percentiles over them.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	full    bool
	total   int64
}

// NewLatencyTracker creates a tracker over the last windowSize samples.
func NewLatencyTracker(windowSize int) *LatencyTracker {
	if windowSize <= 0 {
		windowSize = 1000
	}
	return &LatencyTracker{samples: make([]time.Duration, windowSize)}
}

// Record records a latency measurement.
func (lt *LatencyTracker) Record(d time.Duration) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	lt.samples[lt.next] = d
	lt.next++
	if lt.next == len(lt.samples) {
		lt.next = 0
		lt.full = true
	}
	lt.total++
}

// Since records the time elapsed since start.
func (lt *LatencyTracker) Since(start time.Time) {
	lt.Record(time.Since(start))
}

// Stats returns percentiles over the current window. Count is the number of
// samples ever recorded.
func (lt *LatencyTracker) Stats() LatencyStats {
	lt.mu.Lock()
	n := lt.next
	if lt.full {
		n = len(lt.samples)
	}
	window := make([]time.Duration, n)
	copy(window, lt.samples[:n])
	total := lt.total
	lt.mu.Unlock()

	if n == 0 {
		return LatencyStats{}
	}

	sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })

	var sum time.Duration
	for _, v := range window {
		sum += v
	}
	percentile := func(p float64) float64 {
		return toMillis(window[int(float64(n-1)*p)])
	}

	return LatencyStats{
		Count:   total,
		Samples: n,
		MinMs:   toMillis(window[0]),
		MaxMs:   toMillis(window[n-1]),
		AvgMs:   toMillis(sum / time.Duration(n)),
		P50Ms:   percentile(0.50),
		P95Ms:   percentile(0.95),
		P99Ms:   percentile(0.99),
	}
}

// LatencyStats holds latency statistics in milliseconds.
type LatencyStats struct {
	Count   int64   `json:"count"`
	Samples int     `json:"samples"`
	MinMs   float64 `json:"min_ms"`
	MaxMs   float64 `json:"max_ms"`
	AvgMs   float64 `json:"avg_ms"`
	P50Ms   float64 `json:"p50_ms"`
	P95Ms   float64 `json:"p95_ms"`
	P99Ms   float64 `json:"p99_ms"`
}

func toMillis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
