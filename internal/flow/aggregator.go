// Package flow implements the temporal aggregation core: per-frame
// detection counts are bucketed into one-second windows, converted to an
// instantaneous vehicles-per-second rate, smoothed with an exponential
// moving average, and retained as a bounded time series from which a
// short-horizon trend (regression slope) is derived.
package flow

// FrequencySource reports the effective sampling frequency used to scale
// a closing bucket's per-frame average into a per-second rate.
//
// Live sessions self-calibrate against the throughput actually achieved
// (frames processed over wall-clock elapsed), which varies with system
// load. Offline analysis reports the deterministic videoFPS/stride so
// replays are reproducible. The asymmetry is intentional.
type FrequencySource interface {
	EffectiveHz(framesInBucket int) float64
}

// FixedHz is a FrequencySource with a constant frequency, used for the
// deterministic offline timebase.
type FixedHz float64

// EffectiveHz returns the fixed frequency regardless of bucket contents.
func (f FixedHz) EffectiveHz(int) float64 { return float64(f) }

// Aggregator buckets per-frame detection counts by a one-second time
// coordinate and emits one EMA-smoothed rate sample per closed bucket.
// It is not safe for concurrent use; callers own the locking.
type Aggregator struct {
	alpha  float64
	freq   FrequencySource
	series *Series

	haveBucket bool
	bucket     int64
	sum        int
	frames     int

	haveEMA bool
	ema     float64

	closed int
}

// NewAggregator creates an aggregator emitting into the given series.
func NewAggregator(alpha float64, freq FrequencySource, series *Series) *Aggregator {
	return &Aggregator{alpha: alpha, freq: freq, series: series}
}

// Observe records one processed frame's detection count at the given
// monotonic time coordinate (wall-clock seconds for live capture,
// video-time second index for offline analysis). When the coordinate
// advances past the open bucket, that bucket is closed first: its
// per-frame average is scaled by the effective sampling frequency,
// smoothed, and appended to the series. The closed sample is returned so
// callers can forward it (telemetry, persistence) outside their own
// locks.
func (a *Aggregator) Observe(frameCount int, coord int64) (Sample, bool) {
	var out Sample
	var didClose bool

	if !a.haveBucket {
		a.haveBucket = true
		a.bucket = coord
	} else if coord != a.bucket {
		out = a.close()
		didClose = true
		a.bucket = coord
	}

	a.sum += frameCount
	a.frames++
	return out, didClose
}

// close finalises the open bucket and resets the accumulators.
func (a *Aggregator) close() Sample {
	frames := a.frames
	if frames < 1 {
		frames = 1
	}
	avgPerFrame := float64(a.sum) / float64(frames)
	rate := avgPerFrame * a.freq.EffectiveHz(a.frames)

	if !a.haveEMA {
		a.ema = rate
		a.haveEMA = true
	} else {
		a.ema = a.alpha*rate + (1-a.alpha)*a.ema
	}

	sample := Sample{Bucket: a.bucket, Rate: a.ema}
	a.series.Append(sample.Bucket, sample.Rate)

	a.sum = 0
	a.frames = 0
	a.closed++
	return sample
}

// EMA returns the current smoothed rate (zero before the first close).
func (a *Aggregator) EMA() float64 {
	if !a.haveEMA {
		return 0
	}
	return a.ema
}

// ClosedBuckets returns how many buckets have been closed, which the
// offline analyzer uses as its processing deadline.
func (a *Aggregator) ClosedBuckets() int { return a.closed }
