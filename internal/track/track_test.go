package track

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/greenwave.report/internal/detect"
)

func box(x1, y1, x2, y2 float64) detect.Box {
	return detect.Box{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

func tracked(id int64, b detect.Box) detect.TrackedDetection {
	return detect.TrackedDetection{
		Detection: detect.Detection{Class: 2, Confidence: 0.9, Box: b},
		TrackID:   id,
	}
}

func TestIoU(t *testing.T) {
	t.Run("identical boxes", func(t *testing.T) {
		b := box(0, 0, 10, 10)
		assert.InDelta(t, 1.0, IoU(b, b), 1e-9)
	})

	t.Run("disjoint boxes", func(t *testing.T) {
		assert.Equal(t, 0.0, IoU(box(0, 0, 10, 10), box(20, 20, 30, 30)))
	})

	t.Run("touching edges", func(t *testing.T) {
		assert.Equal(t, 0.0, IoU(box(0, 0, 10, 10), box(10, 0, 20, 10)))
	})

	t.Run("half overlap", func(t *testing.T) {
		// 10x10 boxes offset by 5 in x: intersection 50, union 150.
		got := IoU(box(0, 0, 10, 10), box(5, 0, 15, 10))
		assert.InDelta(t, 1.0/3.0, got, 1e-9)
	})

	t.Run("degenerate box", func(t *testing.T) {
		assert.Equal(t, 0.0, IoU(box(5, 5, 5, 5), box(0, 0, 10, 10)))
	})
}

func TestTrackedIDCountedOnceAtConfirmAge(t *testing.T) {
	d := NewDeduplicator(DefaultConfig())
	b := box(0, 0, 10, 10)

	d.ObserveTrackedFrame([]detect.TrackedDetection{tracked(7, b)}, 0)
	assert.Equal(t, 0, d.UniqueCount(), "unconfirmed after one frame")

	d.ObserveTrackedFrame([]detect.TrackedDetection{tracked(7, b)}, 0)
	assert.Equal(t, 1, d.UniqueCount(), "confirmed at age 2")

	for i := 0; i < 10; i++ {
		d.ObserveTrackedFrame([]detect.TrackedDetection{tracked(7, b)}, int64(i))
	}
	assert.Equal(t, 1, d.UniqueCount(), "never recounted while active")
}

func TestTrackedPruneAndReappear(t *testing.T) {
	d := NewDeduplicator(DefaultConfig())
	b := box(0, 0, 10, 10)

	d.ObserveTrackedFrame([]detect.TrackedDetection{tracked(1, b)}, 0)
	d.ObserveTrackedFrame([]detect.TrackedDetection{tracked(1, b)}, 0)
	assert.Equal(t, 1, d.UniqueCount())
	assert.Equal(t, 1, d.ActiveTracks())

	// Empty frames advance buckets past the staleness threshold.
	d.ObserveTrackedFrame(nil, 4)
	assert.Equal(t, 0, d.ActiveTracks(), "stale track pruned")
	assert.Equal(t, 1, d.UniqueCount(), "count survives pruning")

	// The same adapter id returning later is a fresh vehicle.
	d.ObserveTrackedFrame([]detect.TrackedDetection{tracked(1, b)}, 10)
	d.ObserveTrackedFrame([]detect.TrackedDetection{tracked(1, b)}, 10)
	assert.Equal(t, 2, d.UniqueCount())
}

func TestIoUAssociationMergesSameVehicle(t *testing.T) {
	d := NewDeduplicator(DefaultConfig())

	// The same vehicle drifting slightly across three frames.
	d.ObserveFrame([]detect.Box{box(0, 0, 100, 100)}, 0)
	d.ObserveFrame([]detect.Box{box(5, 0, 105, 100)}, 0)
	d.ObserveFrame([]detect.Box{box(10, 0, 110, 100)}, 0)

	assert.Equal(t, 1, d.UniqueCount())
	assert.Equal(t, 1, d.ActiveTracks())
}

func TestIoUAssociationSeparatesDistinctVehicles(t *testing.T) {
	d := NewDeduplicator(DefaultConfig())
	left := box(0, 0, 50, 50)
	right := box(200, 200, 250, 250)

	d.ObserveFrame([]detect.Box{left, right}, 0)
	d.ObserveFrame([]detect.Box{left, right}, 0)

	assert.Equal(t, 2, d.UniqueCount())
	assert.Equal(t, 2, d.ActiveTracks())
}

func TestIoUBelowThresholdSpawnsNewTrack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IoUThreshold = 0.5
	d := NewDeduplicator(cfg)

	d.ObserveFrame([]detect.Box{box(0, 0, 10, 10)}, 0)
	// Overlap ~1/3 is below the 0.5 threshold.
	d.ObserveFrame([]detect.Box{box(5, 0, 15, 10)}, 0)

	assert.Equal(t, 2, d.ActiveTracks())
}

func TestOneDetectionPerTrackPerFrame(t *testing.T) {
	d := NewDeduplicator(DefaultConfig())
	b := box(0, 0, 100, 100)

	d.ObserveFrame([]detect.Box{b}, 0)
	// Two near-identical detections in one frame: the track absorbs one,
	// the other must spawn instead of double-matching.
	d.ObserveFrame([]detect.Box{b, b}, 0)

	assert.Equal(t, 2, d.ActiveTracks())
}

func TestMaxActiveTracksEvictsOldest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxActiveTracks = 2
	cfg.StaleBuckets = 100
	d := NewDeduplicator(cfg)

	d.ObserveFrame([]detect.Box{box(0, 0, 10, 10)}, 0)
	d.ObserveFrame([]detect.Box{box(100, 100, 110, 110)}, 1)
	d.ObserveFrame([]detect.Box{box(200, 200, 210, 210)}, 2)

	assert.Equal(t, 2, d.ActiveTracks())
}

func TestConfirmAgeOne(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConfirmAge = 1
	d := NewDeduplicator(cfg)

	d.ObserveTrackedFrame([]detect.TrackedDetection{tracked(3, box(0, 0, 5, 5))}, 0)
	assert.Equal(t, 1, d.UniqueCount(), "single sighting confirms at age 1")
}
