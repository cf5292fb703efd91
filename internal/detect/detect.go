// Package detect defines the boundary to the object-detection model. The
// model itself is an external capability; this package fixes the request
// and result shapes and provides the remote client and a scripted fake.
package detect

import (
	"context"

	"github.com/banshee-data/greenwave.report/internal/video"
)

// Box is an axis-aligned bounding box in frame pixel coordinates.
type Box struct {
	X1, Y1, X2, Y2 float64
}

// Detection is one object observed in one frame.
type Detection struct {
	Class      int
	Confidence float64
	Box        Box
}

// TrackedDetection is a detection carrying a persistent track identifier
// assigned by the model's own tracker. The tracked and untracked shapes
// are distinct types selected once per adapter configuration, never per
// detection.
type TrackedDetection struct {
	Detection
	TrackID int64
}

// Request selects the classes and the confidence floor for one detection
// call.
type Request struct {
	Classes       []int
	MinConfidence float64
}

// Matches reports whether a class id is in the request's class filter.
// An empty filter matches everything.
func (r Request) Matches(class int) bool {
	if len(r.Classes) == 0 {
		return true
	}
	for _, c := range r.Classes {
		if c == class {
			return true
		}
	}
	return false
}

// Detector runs single-frame detection. Implementations must be safe for
// concurrent use from multiple sessions and requests; the loaded model is
// shared read-only process-wide.
type Detector interface {
	Detect(ctx context.Context, frame video.Frame, req Request) ([]Detection, error)
}

// TrackingDetector runs detection with persistent per-source track ids.
type TrackingDetector interface {
	TrackedDetect(ctx context.Context, frame video.Frame, req Request) ([]TrackedDetection, error)
}
