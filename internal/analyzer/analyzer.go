// Package analyzer runs the bucket/EMA/trend pipeline over a finite
// uploaded video. Unlike live sessions it replays deterministically from
// the video's own timebase, subsamples frames by stride, and stops early
// once a configured number of buckets have been closed so user-facing
// requests have bounded latency.
package analyzer

import (
	"context"
	"io"
	"math"

	"github.com/banshee-data/greenwave.report/internal/detect"
	"github.com/banshee-data/greenwave.report/internal/flow"
	"github.com/banshee-data/greenwave.report/internal/metrics"
	"github.com/banshee-data/greenwave.report/internal/monitoring"
	"github.com/banshee-data/greenwave.report/internal/track"
	"github.com/banshee-data/greenwave.report/internal/video"
)

// VideoAnnotator writes annotated frames to an output artifact. Drawing
// and encoding are external concerns; the analyzer only feeds it frames
// and reads back the final artifact location.
type VideoAnnotator interface {
	WriteFrame(frame video.Frame, dets []detect.TrackedDetection) error
	// Close finalises the artifact and reports how many frames were
	// written and where.
	Close() (frames int, path string, err error)
}

// Options configures one analysis run.
type Options struct {
	// TargetFPS selects the subsampling stride from the video's FPS.
	TargetFPS float64
	// Alpha is the EMA smoothing factor.
	Alpha float64
	// SlopeWindow is the trailing trend window in buckets.
	SlopeWindow int64
	// MaxBuckets stops processing after this many closed buckets
	// (0 disables the deadline).
	MaxBuckets int
	// Request selects detection classes and confidence floor.
	Request detect.Request
	// Tracker configures deduplication.
	Tracker track.Config
	// MaxFrameSide bounds frame size before detection (0 disables).
	MaxFrameSide int

	// Annotator, when set, receives every processed frame.
	Annotator VideoAnnotator
	// Converter, when set with ConvertTo, transcodes the finished
	// artifact. Conversion failure keeps the unconverted artifact.
	Converter video.Converter
	ConvertTo string
}

// DefaultOptions returns the offline analysis defaults.
func DefaultOptions() Options {
	return Options{
		TargetFPS:    4.0,
		Alpha:        0.3,
		SlopeWindow:  10,
		MaxBuckets:   8,
		Request:      detect.Request{Classes: []int{2, 3, 5, 7}, MinConfidence: 0.35},
		Tracker:      track.DefaultConfig(),
		MaxFrameSide: 640,
	}
}

// VideoMetrics summarises one analysis run.
type VideoMetrics struct {
	VehiclesPerSecond float64       `json:"vehiclesPerSecond"`
	RateOfChange      float64       `json:"rateOfChange"`
	DataPoints        int           `json:"dataPoints"`
	VehicleCount      int           `json:"vehicleCount"`
	AnnotatedFrames   int           `json:"annotatedFrames"`
	AnnotatedPath     string        `json:"annotatedOutputPath,omitempty"`
	Samples           []flow.Sample `json:"-"`
}

// Analyzer runs offline video analysis synchronously within the calling
// request. The tracked detector is preferred for deduplication; when it
// is absent the analyzer falls back to IoU association over the plain
// detector.
type Analyzer struct {
	detector detect.Detector
	tracker  detect.TrackingDetector // may be nil
	opener   video.Opener
	met      *metrics.Metrics // may be nil
}

// New creates an analyzer. tracker may be nil to force the IoU path;
// met may be nil to disable instrumentation.
func New(detector detect.Detector, tracker detect.TrackingDetector, opener video.Opener, met *metrics.Metrics) *Analyzer {
	return &Analyzer{detector: detector, tracker: tracker, opener: opener, met: met}
}

// AnalyzeVideo processes one finite video. An unopenable source yields
// zeroed metrics rather than an error — callers read "no data" from the
// zero values.
func (a *Analyzer) AnalyzeVideo(ctx context.Context, source string, opts Options) VideoMetrics {
	if a.met != nil {
		a.met.AnalysesStarted.Add(1)
		defer a.met.AnalysesFinished.Add(1)
	}

	src, err := a.opener.Open(source)
	if err != nil {
		monitoring.Logf("analysis: cannot open %s: %v", source, err)
		return VideoMetrics{}
	}
	defer src.Close()

	fps := src.FPS()
	if fps <= 1e-3 {
		fps = math.Max(1.0, opts.TargetFPS)
	}
	stride := int(math.Round(fps / math.Max(1.0, opts.TargetFPS)))
	if stride < 1 {
		stride = 1
	}

	// Deterministic timebase: bucket indices derive from frame position
	// and the video's FPS, never from wall clock, so results are
	// reproducible across runs.
	series := flow.NewSeries(0)
	agg := flow.NewAggregator(opts.Alpha, flow.FixedHz(fps/float64(stride)), series)
	dedup := track.NewDeduplicator(opts.Tracker)

	annotator := opts.Annotator
	annotatedFrames := 0
	frameIdx := 0

loop:
	for ctx.Err() == nil {
		frame, err := src.Next()
		if err != nil {
			if err != io.EOF {
				monitoring.Logf("analysis: read failed on %s: %v", source, err)
			}
			break
		}
		frame = video.ResizeFrame(frame, opts.MaxFrameSide)
		bucket := int64(float64(frameIdx) / fps)

		dets := a.detectFrame(ctx, frame, bucket, dedup, opts.Request)
		if a.met != nil {
			a.met.FramesProcessed.Add(1)
			a.met.DetectionsTotal.Add(uint64(len(dets)))
		}

		if annotator != nil {
			if err := annotator.WriteFrame(frame, dets); err != nil {
				monitoring.Logf("analysis: annotation failed, disabling: %v", err)
				annotator = nil
			} else {
				annotatedFrames++
			}
		}

		_, closed := agg.Observe(len(dets), bucket)
		if closed {
			if a.met != nil {
				a.met.BucketsClosed.Add(1)
			}
			if opts.MaxBuckets > 0 && agg.ClosedBuckets() >= opts.MaxBuckets {
				break
			}
		}
		frameIdx++

		// Advance past the subsampled frames without decoding them so
		// the bucket-index math stays aligned with video time.
		for i := 1; i < stride; i++ {
			if err := src.Skip(); err != nil {
				break loop
			}
			frameIdx++
		}
	}

	out := VideoMetrics{
		VehiclesPerSecond: agg.EMA(),
		RateOfChange:      series.Slope(opts.SlopeWindow),
		DataPoints:        series.Len(),
		VehicleCount:      dedup.UniqueCount(),
		AnnotatedFrames:   annotatedFrames,
		Samples:           series.Samples(),
	}

	if opts.Annotator != nil {
		frames, path, err := opts.Annotator.Close()
		if err != nil {
			monitoring.Logf("analysis: annotator close failed: %v", err)
		} else if frames > 0 {
			out.AnnotatedFrames = frames
			out.AnnotatedPath = a.convert(path, opts)
		}
	}

	return out
}

// detectFrame runs the preferred tracked path when available, feeding the
// deduplicator either persistent ids or raw boxes for IoU association.
// Detection failures degrade to a zero count for that frame.
func (a *Analyzer) detectFrame(ctx context.Context, frame video.Frame, bucket int64, dedup *track.Deduplicator, req detect.Request) []detect.TrackedDetection {
	if a.tracker != nil {
		tds, err := a.tracker.TrackedDetect(ctx, frame, req)
		if err != nil {
			a.noteDetectError(err)
			return nil
		}
		dedup.ObserveTrackedFrame(tds, bucket)
		return tds
	}

	dets, err := a.detector.Detect(ctx, frame, req)
	if err != nil {
		a.noteDetectError(err)
		return nil
	}
	boxes := make([]detect.Box, len(dets))
	out := make([]detect.TrackedDetection, len(dets))
	for i, d := range dets {
		boxes[i] = d.Box
		out[i] = detect.TrackedDetection{Detection: d}
	}
	dedup.ObserveFrame(boxes, bucket)
	return out
}

func (a *Analyzer) noteDetectError(err error) {
	if a.met != nil {
		a.met.DetectErrors.Add(1)
	}
	monitoring.Logf("analysis: detection failed: %v", err)
}

// convert transcodes the artifact when a converter is configured. The
// analysis result is valid regardless of converter outcome: on failure
// the unconverted path is kept.
func (a *Analyzer) convert(path string, opts Options) string {
	if opts.Converter == nil || opts.ConvertTo == "" || path == "" {
		return path
	}
	if err := opts.Converter.Convert(path, opts.ConvertTo); err != nil {
		monitoring.Logf("analysis: artifact conversion failed, keeping %s: %v", path, err)
		return path
	}
	return opts.ConvertTo
}
