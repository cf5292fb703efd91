package detect

import (
	"context"
	"sync"

	"github.com/banshee-data/greenwave.report/internal/video"
)

// StaticDetector replays scripted per-frame detections in order,
// repeating the final entry once the script is exhausted. It implements
// both Detector and TrackingDetector for tests.
type StaticDetector struct {
	mu     sync.Mutex
	frames [][]TrackedDetection
	idx    int
	calls  int
	Err    error // returned on every call when set
}

// NewStaticDetector creates a detector scripted with per-frame results.
func NewStaticDetector(frames ...[]TrackedDetection) *StaticDetector {
	return &StaticDetector{frames: frames}
}

func (d *StaticDetector) next() []TrackedDetection {
	d.calls++
	if len(d.frames) == 0 {
		return nil
	}
	i := d.idx
	if i >= len(d.frames) {
		i = len(d.frames) - 1
	} else {
		d.idx++
	}
	return d.frames[i]
}

// Detect returns the next scripted frame's detections, filtered by the
// request.
func (d *StaticDetector) Detect(_ context.Context, _ video.Frame, req Request) ([]Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return nil, d.Err
	}
	var out []Detection
	for _, td := range d.next() {
		if req.Matches(td.Class) && td.Confidence >= req.MinConfidence {
			out = append(out, td.Detection)
		}
	}
	return out, nil
}

// TrackedDetect returns the next scripted frame's detections with ids.
func (d *StaticDetector) TrackedDetect(_ context.Context, _ video.Frame, req Request) ([]TrackedDetection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return nil, d.Err
	}
	var out []TrackedDetection
	for _, td := range d.next() {
		if req.Matches(td.Class) && td.Confidence >= req.MinConfidence {
			out = append(out, td)
		}
	}
	return out, nil
}

// Calls reports how many detection calls were made.
func (d *StaticDetector) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}
