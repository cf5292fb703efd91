// Package api exposes the HTTP surface: image detection, live stream
// sessions, offline video analysis, artifact downloads, and the rate
// report.
package api

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/greenwave.report/internal/analyzer"
	"github.com/banshee-data/greenwave.report/internal/config"
	"github.com/banshee-data/greenwave.report/internal/detect"
	"github.com/banshee-data/greenwave.report/internal/session"
	"github.com/banshee-data/greenwave.report/internal/store"
	"github.com/banshee-data/greenwave.report/internal/timeutil"
	"github.com/banshee-data/greenwave.report/internal/video"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	detector   detect.Detector
	manager    *session.Manager
	analyzer   *analyzer.Analyzer
	db         *store.DB // may be nil
	cfg        *config.TuningConfig
	clock      timeutil.Clock
	converter  video.Converter // may be nil
	resultsDir string
	ffmpegPath string
}

// NewServer wires the HTTP surface. db and converter may be nil; the
// corresponding features degrade instead of failing requests.
func NewServer(detector detect.Detector, manager *session.Manager, an *analyzer.Analyzer, db *store.DB, cfg *config.TuningConfig, clock timeutil.Clock, converter video.Converter, resultsDir, ffmpegPath string) *Server {
	return &Server{
		detector:   detector,
		manager:    manager,
		analyzer:   an,
		db:         db,
		cfg:        cfg,
		clock:      clock,
		converter:  converter,
		resultsDir: resultsDir,
		ffmpegPath: ffmpegPath,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/detect", s.detectImage)
	mux.HandleFunc("/api/stream/start", s.startStream)
	mux.HandleFunc("/api/stream/metrics", s.streamMetrics)
	mux.HandleFunc("/api/stream/stop", s.stopStream)
	mux.HandleFunc("/api/video/analyze", s.analyzeVideo)
	mux.HandleFunc("/api/video/analyze-multi", s.analyzeMultiVideo)
	mux.HandleFunc("/api/report", s.showReport)
	mux.HandleFunc("/results/", s.serveResult)
	return mux
}

// vehicleRequest builds the detector request for the untracked path.
func (s *Server) vehicleRequest() detect.Request {
	return detect.Request{
		Classes:       s.cfg.GetVehicleClasses(),
		MinConfidence: s.cfg.GetVehicleConfidence(),
	}
}

// emergencyRequest builds the detector request for the emergency class set.
func (s *Server) emergencyRequest() detect.Request {
	return detect.Request{
		Classes:       s.cfg.GetEmergencyClasses(),
		MinConfidence: s.cfg.GetEmergencyConfidence(),
	}
}
