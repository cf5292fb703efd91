package api

import (
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/banshee-data/greenwave.report/internal/detect"
	"github.com/banshee-data/greenwave.report/internal/httputil"
	"github.com/banshee-data/greenwave.report/internal/monitoring"
	"github.com/banshee-data/greenwave.report/internal/signalplan"
	"github.com/banshee-data/greenwave.report/internal/store"
	"github.com/banshee-data/greenwave.report/internal/video"
)

// maxUploadBytes bounds multipart uploads held in memory before spilling
// to disk.
const maxUploadBytes = 512 << 20

type imageDetectResponse struct {
	VehicleCount      int    `json:"vehicleCount"`
	EmergencyDetected bool   `json:"emergencyDetected"`
	GreenSeconds      int    `json:"signalTime"`
	AnnotatedImageRef string `json:"annotatedImageRef,omitempty"`
}

// detectImage handles the single-image path: count vehicles in one
// uploaded photo and derive a green time with no trend input.
func (s *Server) detectImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		httputil.BadRequest(w, "expected multipart form upload")
		return
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		httputil.BadRequest(w, "missing 'image' file field")
		return
	}
	defer file.Close()

	img, err := video.DecodeImage(file, s.cfg.GetMaxFrameSidePixels())
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("cannot decode image: %v", err))
		return
	}
	frame := video.FrameFromImage(img)

	vehicles, err := s.detector.Detect(r.Context(), frame, s.vehicleRequest())
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("detection failed: %v", err))
		return
	}

	// Emergency detection is best-effort; a failed call degrades to the
	// non-emergency timing rather than failing the request.
	emergency := false
	emergencies, err := s.detector.Detect(r.Context(), frame, s.emergencyRequest())
	if err != nil {
		monitoring.Logf("emergency detection failed: %v", err)
	} else {
		emergency = len(emergencies) > 0
	}

	resp := imageDetectResponse{
		VehicleCount:      len(vehicles),
		EmergencyDetected: emergency,
		GreenSeconds:      signalplan.ForImage(len(vehicles), emergency),
	}
	if ref, err := s.saveAnnotatedImage(frame, vehicles); err != nil {
		monitoring.Logf("failed to save annotated image: %v", err)
	} else {
		resp.AnnotatedImageRef = ref
	}

	s.recordDecision(&store.DecisionRecord{
		Lane:         "image",
		VehicleCount: resp.VehicleCount,
		Emergency:    resp.EmergencyDetected,
		GreenSeconds: resp.GreenSeconds,
	})
	httputil.WriteJSONOK(w, resp)
}

// saveAnnotatedImage burns detection boxes into the frame and writes it
// to the results directory, returning the download ref.
func (s *Server) saveAnnotatedImage(frame video.Frame, dets []detect.Detection) (string, error) {
	annotated := video.Frame{
		Pix:    append([]byte(nil), frame.Pix...),
		Width:  frame.Width,
		Height: frame.Height,
	}
	for _, d := range dets {
		video.DrawBox(annotated,
			int(d.Box.X1), int(d.Box.Y1), int(d.Box.X2), int(d.Box.Y2),
			0x2e, 0xcc, 0x40)
	}

	name := "annotated_" + uuid.New().String() + ".jpg"
	if err := imaging.Save(annotated.Image(), filepath.Join(s.resultsDir, name), imaging.JPEGQuality(90)); err != nil {
		return "", err
	}
	return "/results/" + name, nil
}

func (s *Server) recordDecision(rec *store.DecisionRecord) {
	if s.db == nil {
		return
	}
	if err := s.db.RecordDecision(rec); err != nil {
		monitoring.Logf("failed to record decision: %v", err)
	}
}
