// Package config holds the tuning parameters for the aggregation,
// tracking, and capture subsystems.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// TuningConfig represents the tuning parameters loaded at startup. All
// fields are pointers so a partial JSON file only overrides the values it
// names; the Get* accessors supply defaults for everything else.
type TuningConfig struct {
	// Rate aggregation params
	EMAAlpha       *float64 `json:"ema_alpha,omitempty"`
	SampleCapacity *int     `json:"sample_capacity,omitempty"`

	// Trend estimation params
	LiveSlopeWindowSeconds    *int `json:"live_slope_window_seconds,omitempty"`
	OfflineSlopeWindowSeconds *int `json:"offline_slope_window_seconds,omitempty"`

	// Tracker params
	ConfirmAge      *int     `json:"confirm_age,omitempty"`
	StaleBuckets    *int     `json:"stale_buckets,omitempty"`
	IoUThreshold    *float64 `json:"iou_threshold,omitempty"`
	MaxActiveTracks *int     `json:"max_active_tracks,omitempty"`

	// Capture params
	LiveTargetFPS      *float64 `json:"live_target_fps,omitempty"`
	OfflineTargetFPS   *float64 `json:"offline_target_fps,omitempty"`
	MaxAnalysisBuckets *int     `json:"max_analysis_buckets,omitempty"`
	StopGraceSeconds   *int     `json:"stop_grace_seconds,omitempty"`
	FFmpegPath         *string  `json:"ffmpeg_path,omitempty"`
	FFprobePath        *string  `json:"ffprobe_path,omitempty"`

	// Detector params
	DetectorURL         *string  `json:"detector_url,omitempty"`
	VehicleClasses      []int    `json:"vehicle_classes,omitempty"`
	EmergencyClasses    []int    `json:"emergency_classes,omitempty"`
	VehicleConfidence   *float64 `json:"vehicle_confidence,omitempty"`
	TrackedConfidence   *float64 `json:"tracked_confidence,omitempty"`
	EmergencyConfidence *float64 `json:"emergency_confidence,omitempty"`
	MaxFrameSidePixels  *int     `json:"max_frame_side_pixels,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields unset, so every
// accessor falls back to its default.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. Fields omitted
// from the file retain their defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks ranges for all set fields.
func (c *TuningConfig) Validate() error {
	if c.EMAAlpha != nil && (*c.EMAAlpha <= 0 || *c.EMAAlpha > 1) {
		return fmt.Errorf("ema_alpha must be in (0, 1], got %v", *c.EMAAlpha)
	}
	if c.SampleCapacity != nil && *c.SampleCapacity < 2 {
		return fmt.Errorf("sample_capacity must be >= 2, got %d", *c.SampleCapacity)
	}
	if c.LiveSlopeWindowSeconds != nil && *c.LiveSlopeWindowSeconds < 2 {
		return fmt.Errorf("live_slope_window_seconds must be >= 2, got %d", *c.LiveSlopeWindowSeconds)
	}
	if c.OfflineSlopeWindowSeconds != nil && *c.OfflineSlopeWindowSeconds < 2 {
		return fmt.Errorf("offline_slope_window_seconds must be >= 2, got %d", *c.OfflineSlopeWindowSeconds)
	}
	if c.ConfirmAge != nil && *c.ConfirmAge < 1 {
		return fmt.Errorf("confirm_age must be >= 1, got %d", *c.ConfirmAge)
	}
	if c.StaleBuckets != nil && *c.StaleBuckets < 1 {
		return fmt.Errorf("stale_buckets must be >= 1, got %d", *c.StaleBuckets)
	}
	if c.IoUThreshold != nil && (*c.IoUThreshold <= 0 || *c.IoUThreshold >= 1) {
		return fmt.Errorf("iou_threshold must be in (0, 1), got %v", *c.IoUThreshold)
	}
	if c.LiveTargetFPS != nil && *c.LiveTargetFPS <= 0 {
		return fmt.Errorf("live_target_fps must be positive, got %v", *c.LiveTargetFPS)
	}
	if c.OfflineTargetFPS != nil && *c.OfflineTargetFPS <= 0 {
		return fmt.Errorf("offline_target_fps must be positive, got %v", *c.OfflineTargetFPS)
	}
	if c.MaxAnalysisBuckets != nil && *c.MaxAnalysisBuckets < 0 {
		return fmt.Errorf("max_analysis_buckets must be >= 0, got %d", *c.MaxAnalysisBuckets)
	}
	for _, conf := range []*float64{c.VehicleConfidence, c.TrackedConfidence, c.EmergencyConfidence} {
		if conf != nil && (*conf < 0 || *conf > 1) {
			return fmt.Errorf("confidence thresholds must be in [0, 1], got %v", *conf)
		}
	}
	return nil
}

// GetEMAAlpha returns the EMA smoothing factor for per-second rates.
func (c *TuningConfig) GetEMAAlpha() float64 {
	if c.EMAAlpha != nil {
		return *c.EMAAlpha
	}
	return 0.3
}

// GetSampleCapacity returns the live rate-sample ring capacity
// (600 seconds = ten minutes at one bucket per second).
func (c *TuningConfig) GetSampleCapacity() int {
	if c.SampleCapacity != nil {
		return *c.SampleCapacity
	}
	return 600
}

// GetLiveSlopeWindowSeconds returns the trend window for live sessions.
func (c *TuningConfig) GetLiveSlopeWindowSeconds() int {
	if c.LiveSlopeWindowSeconds != nil {
		return *c.LiveSlopeWindowSeconds
	}
	return 12
}

// GetOfflineSlopeWindowSeconds returns the trend window for offline analysis.
func (c *TuningConfig) GetOfflineSlopeWindowSeconds() int {
	if c.OfflineSlopeWindowSeconds != nil {
		return *c.OfflineSlopeWindowSeconds
	}
	return 10
}

// GetConfirmAge returns the matched-frame count at which a track is
// confirmed and counted.
func (c *TuningConfig) GetConfirmAge() int {
	if c.ConfirmAge != nil {
		return *c.ConfirmAge
	}
	return 2
}

// GetStaleBuckets returns how many buckets a track may go unseen before
// it is pruned.
func (c *TuningConfig) GetStaleBuckets() int {
	if c.StaleBuckets != nil {
		return *c.StaleBuckets
	}
	return 3
}

// GetIoUThreshold returns the minimum IoU for frame-to-frame association.
func (c *TuningConfig) GetIoUThreshold() float64 {
	if c.IoUThreshold != nil {
		return *c.IoUThreshold
	}
	return 0.3
}

// GetMaxActiveTracks caps the active track set to bound association cost.
func (c *TuningConfig) GetMaxActiveTracks() int {
	if c.MaxActiveTracks != nil {
		return *c.MaxActiveTracks
	}
	return 256
}

// GetLiveTargetFPS returns the pacing target for live sessions.
func (c *TuningConfig) GetLiveTargetFPS() float64 {
	if c.LiveTargetFPS != nil {
		return *c.LiveTargetFPS
	}
	return 5.0
}

// GetOfflineTargetFPS returns the subsampling target for offline analysis.
func (c *TuningConfig) GetOfflineTargetFPS() float64 {
	if c.OfflineTargetFPS != nil {
		return *c.OfflineTargetFPS
	}
	return 4.0
}

// GetMaxAnalysisBuckets returns the offline processing deadline in closed
// buckets; zero disables the deadline.
func (c *TuningConfig) GetMaxAnalysisBuckets() int {
	if c.MaxAnalysisBuckets != nil {
		return *c.MaxAnalysisBuckets
	}
	return 8
}

// GetStopGraceSeconds returns how long Stop waits for a session loop to
// acknowledge cancellation.
func (c *TuningConfig) GetStopGraceSeconds() int {
	if c.StopGraceSeconds != nil {
		return *c.StopGraceSeconds
	}
	return 2
}

// GetFFmpegPath returns the ffmpeg binary path for capture and conversion.
func (c *TuningConfig) GetFFmpegPath() string {
	if c.FFmpegPath != nil {
		return *c.FFmpegPath
	}
	return "ffmpeg"
}

// GetFFprobePath returns the ffprobe binary path for source probing.
func (c *TuningConfig) GetFFprobePath() string {
	if c.FFprobePath != nil {
		return *c.FFprobePath
	}
	return "ffprobe"
}

// GetDetectorURL returns the base URL of the detection sidecar.
func (c *TuningConfig) GetDetectorURL() string {
	if c.DetectorURL != nil {
		return *c.DetectorURL
	}
	return "http://127.0.0.1:8573"
}

// GetVehicleClasses returns the detector class ids counted as vehicles
// (COCO car, motorcycle, bus, truck).
func (c *TuningConfig) GetVehicleClasses() []int {
	if len(c.VehicleClasses) > 0 {
		return c.VehicleClasses
	}
	return []int{2, 3, 5, 7}
}

// GetEmergencyClasses returns the class ids of the emergency-vehicle model.
func (c *TuningConfig) GetEmergencyClasses() []int {
	if len(c.EmergencyClasses) > 0 {
		return c.EmergencyClasses
	}
	return []int{80, 81}
}

// GetVehicleConfidence returns the confidence threshold for untracked
// vehicle detection.
func (c *TuningConfig) GetVehicleConfidence() float64 {
	if c.VehicleConfidence != nil {
		return *c.VehicleConfidence
	}
	return 0.3
}

// GetTrackedConfidence returns the confidence threshold when requesting
// persistent track ids.
func (c *TuningConfig) GetTrackedConfidence() float64 {
	if c.TrackedConfidence != nil {
		return *c.TrackedConfidence
	}
	return 0.35
}

// GetEmergencyConfidence returns the confidence threshold for the
// emergency class set.
func (c *TuningConfig) GetEmergencyConfidence() float64 {
	if c.EmergencyConfidence != nil {
		return *c.EmergencyConfidence
	}
	return 0.25
}

// GetMaxFrameSidePixels returns the resize bound applied to frames before
// detection.
func (c *TuningConfig) GetMaxFrameSidePixels() int {
	if c.MaxFrameSidePixels != nil {
		return *c.MaxFrameSidePixels
	}
	return 640
}
