package flow

import (
	"math"
	"testing"
)

func TestSeriesAppendOrdering(t *testing.T) {
	s := NewSeries(0)
	s.Append(10, 1.0)
	s.Append(11, 2.0)

	// Stale and duplicate bucket indices must not corrupt the series.
	s.Append(11, 9.0)
	s.Append(5, 9.0)

	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	last, ok := s.Last()
	if !ok || last.Bucket != 11 || last.Rate != 2.0 {
		t.Errorf("Last() = %+v, want bucket 11 rate 2.0", last)
	}
}

func TestSeriesCapacityDropsOldest(t *testing.T) {
	s := NewSeries(3)
	for i := int64(0); i < 5; i++ {
		s.Append(i, float64(i))
	}

	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", s.Len())
	}
	samples := s.Samples()
	if samples[0].Bucket != 2 || samples[2].Bucket != 4 {
		t.Errorf("retained buckets %d..%d, want 2..4", samples[0].Bucket, samples[2].Bucket)
	}
}

func TestSlopeLinearSeries(t *testing.T) {
	s := NewSeries(0)
	for i := int64(0); i < 5; i++ {
		s.Append(i, 2.0+0.5*float64(i))
	}

	got := s.Slope(10)
	if math.Abs(got-0.5) > 1e-9 {
		t.Errorf("Slope() = %v, want 0.5", got)
	}
}

func TestSlopeShiftInvariant(t *testing.T) {
	a := NewSeries(0)
	b := NewSeries(0)
	for i := int64(0); i < 6; i++ {
		a.Append(i, float64(i)*1.5)
		b.Append(i+100000, float64(i)*1.5)
	}

	if sa, sb := a.Slope(10), b.Slope(10); math.Abs(sa-sb) > 1e-9 {
		t.Errorf("slope changed under bucket shift: %v vs %v", sa, sb)
	}
}

func TestSlopeDegenerateInputs(t *testing.T) {
	s := NewSeries(0)
	if got := s.Slope(10); got != 0 {
		t.Errorf("empty series slope = %v, want 0", got)
	}

	s.Append(7, 3.0)
	if got := s.Slope(10); got != 0 {
		t.Errorf("single-sample slope = %v, want 0", got)
	}
}

func TestSlopeWindowExcludesOldSamples(t *testing.T) {
	s := NewSeries(0)
	// A steep early ramp followed by a flat tail.
	s.Append(0, 0)
	s.Append(1, 10)
	for i := int64(50); i < 56; i++ {
		s.Append(i, 4.0)
	}

	got := s.Slope(5)
	if math.Abs(got) > 1e-9 {
		t.Errorf("windowed slope = %v, want 0 (flat tail only)", got)
	}
}

func TestSlopeWindowWithOneInWindowSample(t *testing.T) {
	s := NewSeries(0)
	s.Append(0, 1.0)
	s.Append(100, 2.0)

	// Only the newest sample falls inside the window.
	if got := s.Slope(5); got != 0 {
		t.Errorf("Slope() = %v, want 0", got)
	}
}
