// Package latency accumulates per-message timing samples and summarises them.
package latency

import (
	"sort"
	"sync"
	"time"
)

// Stats is an ordered sequence of latency samples in seconds.
// The zero value is ready to use and safe for concurrent use.
type Stats struct {
	mu      sync.Mutex
	samples []float64
}

// Add appends one sample, in seconds.
func (s *Stats) Add(seconds float64) {
	s.mu.Lock()
	s.samples = append(s.samples, seconds)
	s.mu.Unlock()
}

// AddDuration appends d converted to seconds.
func (s *Stats) AddDuration(d time.Duration) {
	s.Add(d.Seconds())
}

// Count returns how many samples have been added.
func (s *Stats) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

// Samples returns a copy of the samples in insertion order.
func (s *Stats) Samples() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, len(s.samples))
	copy(out, s.samples)
	return out
}

// Mean returns the arithmetic mean. ok is false when there are no samples.
func (s *Stats) Mean() (mean float64, ok bool) {
	return Mean(s.Samples())
}

// Summary describes a set of samples. All values are seconds. When Count is
// zero every other field is zero and should not be reported.
type Summary struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// Summary computes mean, extremes and percentiles over the current samples.
func (s *Stats) Summary() Summary {
	samples := s.Samples()
	if len(samples) == 0 {
		return Summary{}
	}
	mean, _ := Mean(samples)

	sorted := samples
	sort.Float64s(sorted)
	return Summary{
		Count: len(sorted),
		Mean:  mean,
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		P50:   Percentile(sorted, 50),
		P90:   Percentile(sorted, 90),
		P95:   Percentile(sorted, 95),
		P99:   Percentile(sorted, 99),
	}
}

// Reset drops all samples.
func (s *Stats) Reset() {
	s.mu.Lock()
	s.samples = nil
	s.mu.Unlock()
}

// Mean returns the arithmetic mean of samples. ok is false for an empty slice.
func Mean(samples []float64) (mean float64, ok bool) {
	if len(samples) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range samples {
		sum += v
	}
	return sum / float64(len(samples)), true
}

// Percentile returns the nearest-rank value at p (0-100) from an ascending
// slice. An empty slice yields 0.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	index := int(float64(len(sorted)) * p / 100.0)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	if index < 0 {
		index = 0
	}
	return sorted[index]
}
