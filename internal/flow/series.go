package flow

import (
	"gonum.org/v1/gonum/stat"
)

// Sample is one closed bucket's smoothed rate, keyed by its bucket index.
// Samples are immutable once appended.
type Sample struct {
	Bucket int64   `json:"bucket"`
	Rate   float64 `json:"rate"`
}

// Series is a time-ordered, bounded sequence of rate samples. Bucket
// indices are strictly increasing; when capacity is exceeded the oldest
// samples are dropped. A capacity of zero means unbounded (offline
// analysis bounds itself with the bucket deadline instead).
type Series struct {
	capacity int
	samples  []Sample
}

// NewSeries creates a series bounded to the given capacity.
func NewSeries(capacity int) *Series {
	return &Series{capacity: capacity}
}

// Append adds a closed bucket's sample. Samples whose bucket index does
// not advance past the newest sample are discarded; out-of-order closes
// cannot happen in normal operation and must not corrupt the series.
func (s *Series) Append(bucket int64, rate float64) {
	if n := len(s.samples); n > 0 && bucket <= s.samples[n-1].Bucket {
		return
	}
	s.samples = append(s.samples, Sample{Bucket: bucket, Rate: rate})
	if s.capacity > 0 && len(s.samples) > s.capacity {
		s.samples = s.samples[len(s.samples)-s.capacity:]
	}
}

// Len returns the number of retained samples.
func (s *Series) Len() int { return len(s.samples) }

// Last returns the most recent sample.
func (s *Series) Last() (Sample, bool) {
	if len(s.samples) == 0 {
		return Sample{}, false
	}
	return s.samples[len(s.samples)-1], true
}

// Samples returns a copy of the retained samples in bucket order.
func (s *Series) Samples() []Sample {
	out := make([]Sample, len(s.samples))
	copy(out, s.samples)
	return out
}

// Slope computes the ordinary least-squares slope of rate over bucket
// index, restricted to samples within the trailing window (in buckets)
// measured from the newest sample. Fewer than two in-window samples, or a
// numerically negligible x-variance, yield exactly 0 — both are expected
// degenerate inputs, not errors.
func (s *Series) Slope(window int64) float64 {
	n := len(s.samples)
	if n < 2 {
		return 0
	}

	start := s.samples[n-1].Bucket - window
	var xs, ys []float64
	for _, sm := range s.samples {
		if sm.Bucket >= start {
			xs = append(xs, float64(sm.Bucket))
			ys = append(ys, sm.Rate)
		}
	}
	if len(xs) < 2 {
		return 0
	}

	// Guard against a zero-variance window before handing off to the
	// regression, which would otherwise divide by ~0.
	xMean := stat.Mean(xs, nil)
	var ssx float64
	for _, x := range xs {
		d := x - xMean
		ssx += d * d
	}
	if ssx <= 1e-9 {
		return 0
	}

	_, slope := stat.LinearRegression(xs, ys, nil, false)
	return slope
}
