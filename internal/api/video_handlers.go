package api

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/banshee-data/greenwave.report/internal/analyzer"
	"github.com/banshee-data/greenwave.report/internal/detect"
	"github.com/banshee-data/greenwave.report/internal/httputil"
	"github.com/banshee-data/greenwave.report/internal/monitoring"
	"github.com/banshee-data/greenwave.report/internal/security"
	"github.com/banshee-data/greenwave.report/internal/signalplan"
	"github.com/banshee-data/greenwave.report/internal/store"
	"github.com/banshee-data/greenwave.report/internal/track"
)

// laneField binds a multipart field name to a compass direction.
type laneField struct {
	name string
	dir  signalplan.Direction
}

// compassFields are the preferred upload field names. legacyFields keep
// the numbered aliases of older clients, in the original lane order
// (north, south, east, west); they are consulted only when no compass
// field is present.
var (
	compassFields = []laneField{
		{"north", signalplan.North},
		{"south", signalplan.South},
		{"east", signalplan.East},
		{"west", signalplan.West},
	}
	legacyFields = []laneField{
		{"lane1", signalplan.North},
		{"lane2", signalplan.South},
		{"lane3", signalplan.East},
		{"lane4", signalplan.West},
	}
)

type videoAnalysisResponse struct {
	VehicleCount      int     `json:"vehicleCount"`
	VehiclesPerSecond float64 `json:"vehiclesPerSecond"`
	RateOfChange      float64 `json:"rateOfChange"`
	DataPoints        int     `json:"dataPoints"`
	EmergencyDetected bool    `json:"emergencyDetected"`
	GreenSeconds      int     `json:"signalTime"`
	AnnotatedVideoRef string  `json:"annotatedVideoRef,omitempty"`
}

// analyzeVideo runs the offline pipeline over one uploaded video and
// derives a trend-aware green time.
func (s *Server) analyzeVideo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		httputil.BadRequest(w, "expected multipart form upload")
		return
	}
	file, header, err := r.FormFile("video")
	if err != nil {
		httputil.BadRequest(w, "missing 'video' file field")
		return
	}
	defer file.Close()

	resp, err := s.analyzeOne(r, file, header, "single")
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, resp)
}

// analyzeMultiVideo analyzes up to four lane videos and applies
// opposing-pair fairness to the resulting green times. Compass field
// names take precedence; numbered legacy fields are honoured only when
// no compass field is present.
func (s *Server) analyzeMultiVideo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		httputil.BadRequest(w, "expected multipart form upload")
		return
	}

	lanes, err := s.analyzeLanes(r, compassFields)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if len(lanes) == 0 {
		lanes, err = s.analyzeLanes(r, legacyFields)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
	}
	if len(lanes) == 0 {
		httputil.BadRequest(w, "no lane videos provided; expected fields north/south/east/west or lane1-lane4")
		return
	}

	lanes = signalplan.ApplyPairFairness(lanes)
	for _, l := range lanes {
		s.recordDecision(&store.DecisionRecord{
			Lane:         string(l.Direction),
			VehicleCount: l.VehicleCount,
			Rate:         l.Rate,
			Slope:        l.Slope,
			Emergency:    l.EmergencyDetected,
			GreenSeconds: l.GreenSeconds,
		})
	}
	httputil.WriteJSONOK(w, map[string]any{"lanes": lanes})
}

// analyzeLanes analyzes each of the given fields present in the upload.
func (s *Server) analyzeLanes(r *http.Request, fields []laneField) ([]signalplan.LaneDecision, error) {
	var lanes []signalplan.LaneDecision
	for _, f := range fields {
		file, header, err := r.FormFile(f.name)
		if err != nil {
			continue
		}
		resp, err := s.analyzeOne(r, file, header, string(f.dir))
		file.Close()
		if err != nil {
			return nil, fmt.Errorf("lane %s: %w", f.dir, err)
		}
		lanes = append(lanes, signalplan.LaneDecision{
			Direction: f.dir,
			Decision: signalplan.Decision{
				VehicleCount:      resp.VehicleCount,
				Rate:              resp.VehiclesPerSecond,
				Slope:             resp.RateOfChange,
				EmergencyDetected: resp.EmergencyDetected,
				GreenSeconds:      resp.GreenSeconds,
			},
			AnnotatedVideo: resp.AnnotatedVideoRef,
		})
	}
	return lanes, nil
}

// analyzeOne spools an upload to disk, runs the analyzer with an
// annotation artifact, and persists the outcome.
func (s *Server) analyzeOne(r *http.Request, file multipart.File, header *multipart.FileHeader, lane string) (videoAnalysisResponse, error) {
	path, cleanup, err := s.spoolUpload(file, header)
	if err != nil {
		return videoAnalysisResponse{}, err
	}
	defer cleanup()

	aviName := analyzer.AnnotatedName(uuid.New().String(), ".avi")
	mp4Name := strings.TrimSuffix(aviName, ".avi") + ".mp4"
	opts := s.analyzeOptions()
	opts.Annotator = &analyzer.FFmpegAnnotator{
		FFmpegPath: s.ffmpegPath,
		OutPath:    filepath.Join(s.resultsDir, aviName),
		FPS:        opts.TargetFPS,
	}
	if s.converter != nil {
		opts.Converter = s.converter
		opts.ConvertTo = filepath.Join(s.resultsDir, mp4Name)
	}

	vm := s.analyzer.AnalyzeVideo(r.Context(), path, opts)
	resp := videoAnalysisResponse{
		VehicleCount:      vm.VehicleCount,
		VehiclesPerSecond: vm.VehiclesPerSecond,
		RateOfChange:      vm.RateOfChange,
		DataPoints:        vm.DataPoints,
		GreenSeconds:      signalplan.ForVideo(vm.VehicleCount, vm.RateOfChange, s.clock.Now(), false),
	}
	if vm.AnnotatedPath != "" {
		resp.AnnotatedVideoRef = "/results/" + filepath.Base(vm.AnnotatedPath)
	}

	if s.db != nil {
		rec := &store.AnalysisRecord{
			Source:            security.SanitizeFilename(header.Filename),
			VehiclesPerSecond: vm.VehiclesPerSecond,
			RateOfChange:      vm.RateOfChange,
			VehicleCount:      vm.VehicleCount,
			DataPoints:        vm.DataPoints,
			AnnotatedPath:     vm.AnnotatedPath,
		}
		if err := s.db.RecordAnalysis(rec); err != nil {
			monitoring.Logf("failed to record analysis: %v", err)
		}
	}
	if lane == "single" {
		s.recordDecision(&store.DecisionRecord{
			Lane:         lane,
			VehicleCount: resp.VehicleCount,
			Rate:         resp.VehiclesPerSecond,
			Slope:        resp.RateOfChange,
			GreenSeconds: resp.GreenSeconds,
		})
	}
	return resp, nil
}

// analyzeOptions builds the per-request analyzer options from tuning
// config.
func (s *Server) analyzeOptions() analyzer.Options {
	return analyzer.Options{
		TargetFPS:   s.cfg.GetOfflineTargetFPS(),
		Alpha:       s.cfg.GetEMAAlpha(),
		SlopeWindow: int64(s.cfg.GetOfflineSlopeWindowSeconds()),
		MaxBuckets:  s.cfg.GetMaxAnalysisBuckets(),
		Request: detect.Request{
			Classes:       s.cfg.GetVehicleClasses(),
			MinConfidence: s.cfg.GetTrackedConfidence(),
		},
		Tracker: track.Config{
			ConfirmAge:      s.cfg.GetConfirmAge(),
			StaleBuckets:    int64(s.cfg.GetStaleBuckets()),
			IoUThreshold:    s.cfg.GetIoUThreshold(),
			MaxActiveTracks: s.cfg.GetMaxActiveTracks(),
		},
		MaxFrameSide: s.cfg.GetMaxFrameSidePixels(),
	}
}

// spoolUpload copies a multipart upload to a temp file so the ffmpeg
// pipeline can seek it. The cleanup func removes the temp file.
func (s *Server) spoolUpload(file multipart.File, header *multipart.FileHeader) (string, func(), error) {
	ext := security.SanitizeExtension(header.Filename, ".mp4")
	tmp, err := os.CreateTemp("", "upload-*"+ext)
	if err != nil {
		return "", nil, fmt.Errorf("spool upload: %w", err)
	}
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", nil, fmt.Errorf("spool upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", nil, fmt.Errorf("spool upload: %w", err)
	}
	return tmp.Name(), func() { os.Remove(tmp.Name()) }, nil
}
