// Package signalplan maps flow metrics to bounded green-time decisions.
// All functions are pure; the caller supplies the evaluation time.
package signalplan

import (
	"math"
	"sort"
	"time"
)

// Green-time bounds in seconds.
const (
	VideoMinSeconds = 15
	VideoMaxSeconds = 65
	ImageMinSeconds = 10
	ImageMaxSeconds = 65

	// EmergencyBonusSeconds is the flat extension applied when an
	// emergency vehicle is detected.
	EmergencyBonusSeconds = 10
)

// Direction names a lane's compass direction at the intersection.
type Direction string

// Compass directions. North/south and east/west form opposing pairs that
// share a physical signal phase.
const (
	North Direction = "north"
	South Direction = "south"
	East  Direction = "east"
	West  Direction = "west"
)

// compassOrder fixes the presentation order of multi-lane results.
var compassOrder = map[Direction]int{North: 0, West: 1, East: 2, South: 3}

// Decision is a derived signal-timing result; it is recomputed per
// request and never stored.
type Decision struct {
	VehicleCount      int     `json:"vehicleCount"`
	Rate              float64 `json:"vehiclesPerSecond"`
	Slope             float64 `json:"rateOfChange"`
	EmergencyDetected bool    `json:"emergencyDetected"`
	GreenSeconds      int     `json:"signalTime"`
}

// TimeOfDayAdjustment returns the coarse peak-hour heuristic: +3 during
// 08:00-11:00 and 18:00-22:00, -3 during 22:00-24:00 and 00:00-07:00,
// else 0. Peak wins where the ranges touch at hour 22.
func TimeOfDayAdjustment(at time.Time) int {
	hour := at.Hour()
	switch {
	case (hour >= 8 && hour <= 11) || (hour >= 18 && hour <= 22):
		return 3
	case hour >= 22 || hour <= 7:
		return -3
	default:
		return 0
	}
}

// ForVideo computes green time for the video/stream path, where a trend
// signal is available: base 33s adjusted by slope (the leading
// indicator), count pressure, and time of day, clamped to [15, 65]. The
// emergency bonus is applied before the clamp so the bound holds for
// every input combination.
func ForVideo(vehicleCount int, slope float64, at time.Time, emergency bool) int {
	raw := 33 + 10*slope + 2*float64(vehicleCount-10) + float64(TimeOfDayAdjustment(at))
	if emergency {
		raw += EmergencyBonusSeconds
	}
	return clamp(int(math.Round(raw)), VideoMinSeconds, VideoMaxSeconds)
}

// ForImage computes green time for the single-image path, where no trend
// signal exists: 10s plus 2s per vehicle, clamped to [10, 65], with the
// emergency bonus applied before the clamp.
func ForImage(vehicleCount int, emergency bool) int {
	raw := 10 + 2*vehicleCount
	if emergency {
		raw += EmergencyBonusSeconds
	}
	return clamp(raw, ImageMinSeconds, ImageMaxSeconds)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// LaneDecision is one direction's decision within a multi-lane request.
type LaneDecision struct {
	Direction Direction `json:"direction"`
	Decision
	AnnotatedVideo string `json:"annotatedVideo,omitempty"`
}

// ApplyPairFairness forces opposing directions to the maximum of their
// pair — a shared signal phase cannot give north and south different
// durations, so the busier direction dominates. The north/south and
// east/west pairs are adjusted independently, and lanes are returned in
// fixed compass order (north, west, east, south).
func ApplyPairFairness(lanes []LaneDecision) []LaneDecision {
	pairMax(lanes, North, South)
	pairMax(lanes, East, West)
	sort.SliceStable(lanes, func(i, j int) bool {
		return compassOrder[lanes[i].Direction] < compassOrder[lanes[j].Direction]
	})
	return lanes
}

func pairMax(lanes []LaneDecision, a, b Direction) {
	best := 0
	found := false
	for _, l := range lanes {
		if (l.Direction == a || l.Direction == b) && l.GreenSeconds > best {
			best = l.GreenSeconds
			found = true
		}
	}
	if !found {
		return
	}
	for i := range lanes {
		if lanes[i].Direction == a || lanes[i].Direction == b {
			lanes[i].GreenSeconds = best
		}
	}
}
