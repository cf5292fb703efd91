package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/banshee-data/greenwave.report/internal/httputil"
	"github.com/banshee-data/greenwave.report/internal/session"
)

type startStreamRequest struct {
	Source string `json:"source"`
}

type startStreamResponse struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// startStream probes and launches a live session. An unreachable source
// is the client's problem to fix, reported as 503 rather than a session
// id that would never produce data.
func (s *Server) startStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req startStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}
	if req.Source == "" {
		httputil.BadRequest(w, "missing 'source'")
		return
	}

	id, err := s.manager.Start(req.Source)
	if err != nil {
		if errors.Is(err, session.ErrSourceUnavailable) {
			httputil.ServiceUnavailable(w, fmt.Sprintf("cannot open source %q: %v", req.Source, err))
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("failed to start session: %v", err))
		return
	}

	httputil.WriteJSONOK(w, startStreamResponse{SessionID: id, Message: "stream started"})
}

// streamMetrics returns the live snapshot for one session.
func (s *Server) streamMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	id := r.URL.Query().Get("sessionId")
	if id == "" {
		httputil.BadRequest(w, "missing 'sessionId' parameter")
		return
	}

	snap, ok := s.manager.Metrics(id)
	if !ok {
		httputil.NotFound(w, "unknown session")
		return
	}
	httputil.WriteJSONOK(w, snap)
}

type stopStreamRequest struct {
	SessionID string `json:"sessionId"`
}

// stopStream cancels a session. Stopping an unknown or already-stopped
// id is reported as 404, making stop idempotent from the client's view.
func (s *Server) stopStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req stopStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}
	if req.SessionID == "" {
		httputil.BadRequest(w, "missing 'sessionId'")
		return
	}

	if !s.manager.Stop(req.SessionID) {
		httputil.NotFound(w, "unknown session")
		return
	}
	httputil.WriteJSONOK(w, map[string]any{"sessionId": req.SessionID, "stopped": true})
}
