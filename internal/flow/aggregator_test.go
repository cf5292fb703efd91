package flow

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregatorSeedsEMAWithFirstRate(t *testing.T) {
	series := NewSeries(0)
	agg := NewAggregator(0.3, FixedHz(1.0), series)

	agg.Observe(5, 0)
	agg.Observe(5, 0)
	_, closed := agg.Observe(7, 1)

	require.True(t, closed)
	// First close seeds the EMA with the raw rate instead of decaying
	// from zero.
	assert.InDelta(t, 5.0, agg.EMA(), 1e-9)
}

func TestAggregatorEMASmoothing(t *testing.T) {
	series := NewSeries(0)
	agg := NewAggregator(0.3, FixedHz(1.0), series)

	agg.Observe(5, 0)
	agg.Observe(7, 1) // closes bucket 0 at rate 5
	sample, closed := agg.Observe(0, 2)

	require.True(t, closed)
	// Second close: 0.3*7 + 0.7*5
	assert.InDelta(t, 5.6, sample.Rate, 1e-9)
	assert.InDelta(t, 5.6, agg.EMA(), 1e-9)
	assert.Equal(t, int64(1), sample.Bucket)
}

func TestAggregatorClosePerFrameAverage(t *testing.T) {
	series := NewSeries(0)
	agg := NewAggregator(0.5, FixedHz(4.0), series)

	// Three frames in bucket 0 averaging 2 vehicles per frame.
	agg.Observe(1, 0)
	agg.Observe(2, 0)
	agg.Observe(3, 0)
	sample, closed := agg.Observe(0, 1)

	require.True(t, closed)
	assert.InDelta(t, 8.0, sample.Rate, 1e-9) // avg 2 * 4 Hz
	assert.Equal(t, 1, agg.ClosedBuckets())
}

func TestAggregatorNewFrameNotInClosedBucket(t *testing.T) {
	series := NewSeries(0)
	agg := NewAggregator(1.0, FixedHz(1.0), series)

	agg.Observe(1, 0)
	sample, closed := agg.Observe(100, 1)
	require.True(t, closed)
	// The frame that triggered the close belongs to the new bucket.
	assert.InDelta(t, 1.0, sample.Rate, 1e-9)

	sample, closed = agg.Observe(0, 2)
	require.True(t, closed)
	assert.InDelta(t, 100.0, sample.Rate, 1e-9)
}

func TestAggregatorEMAZeroBeforeFirstClose(t *testing.T) {
	agg := NewAggregator(0.3, FixedHz(1.0), NewSeries(0))
	agg.Observe(9, 0)

	if got := agg.EMA(); got != 0 {
		t.Errorf("EMA() before first close = %v, want 0", got)
	}
	if got := agg.ClosedBuckets(); got != 0 {
		t.Errorf("ClosedBuckets() = %d, want 0", got)
	}
}

func TestFixedHzIgnoresFrameCount(t *testing.T) {
	hz := FixedHz(7.5)
	for _, frames := range []int{0, 1, 100} {
		if got := hz.EffectiveHz(frames); math.Abs(got-7.5) > 1e-12 {
			t.Errorf("EffectiveHz(%d) = %v, want 7.5", frames, got)
		}
	}
}
