package api

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/banshee-data/greenwave.report/internal/flow"
	"github.com/banshee-data/greenwave.report/internal/httputil"
	"github.com/banshee-data/greenwave.report/internal/report"
	"github.com/banshee-data/greenwave.report/internal/security"
)

// serveResult streams an analysis artifact (annotated image or video)
// from the results directory. ServeFile handles Range requests, which
// browsers need for video scrubbing.
func (s *Server) serveResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		httputil.MethodNotAllowed(w)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/results/")
	if err := security.ValidateArtifactName(name); err != nil {
		httputil.NotFound(w, "no such artifact")
		return
	}

	http.ServeFile(w, r, filepath.Join(s.resultsDir, name))
}

// showReport renders an interactive chart of a session's rate series.
// Live sessions are read from memory; stopped ones fall back to the
// persisted samples.
func (s *Server) showReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	id := r.URL.Query().Get("sessionId")
	if id == "" {
		httputil.BadRequest(w, "missing 'sessionId' parameter")
		return
	}

	samples, ok := s.manager.Samples(id)
	if !ok && s.db != nil {
		var err error
		samples, err = s.db.ListStreamSamples(id, 0)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to load samples: %v", err))
			return
		}
	}
	if len(samples) == 0 {
		httputil.NotFound(w, "no samples for session")
		return
	}

	s.renderRateChart(w, id, samples)
}

func (s *Server) renderRateChart(w http.ResponseWriter, id string, samples []flow.Sample) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	subtitle := fmt.Sprintf("session=%s samples=%d", id, len(samples))
	if err := report.RenderRateChartHTML(w, "Vehicle Flow Rate", subtitle, samples); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
	}
}
