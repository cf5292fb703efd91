// Package track deduplicates per-frame vehicle detections into a running
// unique-vehicle count. When the detection adapter supplies persistent
// track ids the package only manages confirmation; without ids it
// associates detections to tracks frame-to-frame by maximum
// Intersection-over-Union.
package track

import (
	"github.com/banshee-data/greenwave.report/internal/detect"
)

// Config holds the tracker lifecycle parameters.
type Config struct {
	// ConfirmAge is the matched-frame count at which a track is counted.
	ConfirmAge int
	// StaleBuckets is how many buckets a track may go unseen before pruning.
	StaleBuckets int64
	// IoUThreshold is the minimum overlap for frame-to-frame association.
	IoUThreshold float64
	// MaxActiveTracks caps the active set to bound association cost.
	MaxActiveTracks int
}

// DefaultConfig returns the tracker defaults: confirm after 2 matched
// frames, prune after 3 unseen buckets, associate above 0.3 IoU.
func DefaultConfig() Config {
	return Config{
		ConfirmAge:      2,
		StaleBuckets:    3,
		IoUThreshold:    0.3,
		MaxActiveTracks: 256,
	}
}

// Track is a hypothesized physical vehicle persisted across frames.
type Track struct {
	ID             int64
	LastBox        detect.Box
	Age            int // matched-frame count
	LastSeenBucket int64
	counted        bool
}

// IoU computes the intersection-over-union of two axis-aligned boxes.
// Disjoint boxes yield exactly 0.
func IoU(a, b detect.Box) float64 {
	xA := max64(a.X1, b.X1)
	yA := max64(a.Y1, b.Y1)
	xB := min64(a.X2, b.X2)
	yB := min64(a.Y2, b.Y2)

	interW := xB - xA
	interH := yB - yA
	if interW <= 0 || interH <= 0 {
		return 0
	}
	inter := interW * interH

	areaA := max64(0, a.X2-a.X1) * max64(0, a.Y2-a.Y1)
	areaB := max64(0, b.X2-b.X1) * max64(0, b.Y2-b.Y1)
	denom := areaA + areaB - inter
	if denom <= 0 {
		return 0
	}
	return inter / denom
}

func max64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// Deduplicator owns the active track set for one analysis run or one
// stream session. It is never shared across sessions; callers own any
// locking.
type Deduplicator struct {
	cfg    Config
	nextID int64
	active []*Track
	unique int
}

// NewDeduplicator creates a deduplicator with the given configuration.
func NewDeduplicator(cfg Config) *Deduplicator {
	if cfg.ConfirmAge < 1 {
		cfg.ConfirmAge = 1
	}
	return &Deduplicator{cfg: cfg, nextID: 1}
}

// ObserveTrackedFrame ingests one frame's detections carrying persistent
// adapter ids. Each id's track is extended (or created), then tracks are
// confirmed and stale ones pruned against the given bucket index.
func (d *Deduplicator) ObserveTrackedFrame(dets []detect.TrackedDetection, bucket int64) {
	for _, td := range dets {
		if tr := d.findByID(td.TrackID); tr != nil {
			tr.LastBox = td.Box
			tr.Age++
			tr.LastSeenBucket = bucket
			continue
		}
		d.spawn(td.TrackID, td.Box, bucket)
	}
	d.confirmAndPrune(bucket)
}

// ObserveFrame ingests one frame's detections without ids, associating
// each detection to the active track with the highest IoU above the
// threshold. Unmatched detections start new tracks; a track accepts at
// most one detection per frame.
func (d *Deduplicator) ObserveFrame(boxes []detect.Box, bucket int64) {
	claimed := make(map[*Track]bool, len(d.active))
	for _, box := range boxes {
		var best *Track
		bestIoU := d.cfg.IoUThreshold
		for _, tr := range d.active {
			if claimed[tr] {
				continue
			}
			if overlap := IoU(tr.LastBox, box); overlap > bestIoU {
				best = tr
				bestIoU = overlap
			}
		}
		if best != nil {
			best.LastBox = box
			best.Age++
			best.LastSeenBucket = bucket
			claimed[best] = true
			continue
		}
		claimed[d.spawn(d.nextID, box, bucket)] = true
		d.nextID++
	}
	d.confirmAndPrune(bucket)
}

func (d *Deduplicator) findByID(id int64) *Track {
	for _, tr := range d.active {
		if tr.ID == id {
			return tr
		}
	}
	return nil
}

func (d *Deduplicator) spawn(id int64, box detect.Box, bucket int64) *Track {
	tr := &Track{ID: id, LastBox: box, Age: 1, LastSeenBucket: bucket}
	if d.cfg.MaxActiveTracks > 0 && len(d.active) >= d.cfg.MaxActiveTracks {
		// Evict the longest-unseen track to stay within bounds.
		oldest := 0
		for i, t := range d.active {
			if t.LastSeenBucket < d.active[oldest].LastSeenBucket {
				oldest = i
			}
		}
		d.active = append(d.active[:oldest], d.active[oldest+1:]...)
	}
	d.active = append(d.active, tr)
	return tr
}

// confirmAndPrune counts newly confirmed tracks exactly once and drops
// tracks unseen for longer than the staleness threshold. Confirmed counts
// survive pruning: a pruned vehicle stays in the cumulative total, and if
// it reappears later it is treated as a brand-new vehicle.
func (d *Deduplicator) confirmAndPrune(bucket int64) {
	kept := d.active[:0]
	for _, tr := range d.active {
		if !tr.counted && tr.Age >= d.cfg.ConfirmAge {
			tr.counted = true
			d.unique++
		}
		if bucket-tr.LastSeenBucket <= d.cfg.StaleBuckets {
			kept = append(kept, tr)
		}
	}
	d.active = kept
}

// UniqueCount returns the cumulative number of confirmed unique vehicles.
func (d *Deduplicator) UniqueCount() int { return d.unique }

// ActiveTracks returns the current number of active (unpruned) tracks.
func (d *Deduplicator) ActiveTracks() int { return len(d.active) }
