package gateway

import (
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"
)

// LatencyTracker keeps the last N compute-to-broadcast latencies (ms) and
// reports percentiles. Safe for concurrent use.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []float64
	pos     int
	count   int
}

// NewLatencyTracker creates a tracker that holds the last capacity samples.
func NewLatencyTracker(capacity int) *LatencyTracker {
	if capacity <= 0 {
		capacity = 10000
	}
	return &LatencyTracker{samples: make([]float64, capacity)}
}

// Record adds a latency sample in milliseconds.
func (lt *LatencyTracker) Record(latencyMs float64) {
	lt.mu.Lock()
	lt.samples[lt.pos] = latencyMs
	lt.pos = (lt.pos + 1) % len(lt.samples)
	if lt.count < len(lt.samples) {
		lt.count++
	}
	lt.mu.Unlock()
}

// Percentiles returns the p50, p95 and p99 latency in milliseconds, or
// zeros when nothing has been recorded.
func (lt *LatencyTracker) Percentiles() (p50, p95, p99 float64) {
	lt.mu.Lock()
	if lt.count == 0 {
		lt.mu.Unlock()
		return 0, 0, 0
	}
	sorted := make([]float64, lt.count)
	copy(sorted, lt.samples[:lt.count])
	lt.mu.Unlock()

	sort.Float64s(sorted)
	q := func(p float64) float64 { return stat.Quantile(p, stat.LinInterp, sorted, nil) }
	return q(0.50), q(0.95), q(0.99)
}

// Count returns the number of samples held (up to capacity).
func (lt *LatencyTracker) Count() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.count
}
