package detect

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"io"
	"net/http"

	"github.com/banshee-data/greenwave.report/internal/httputil"
	"github.com/banshee-data/greenwave.report/internal/video"
)

// RemoteDetector talks to an inference sidecar over HTTP/JSON. The
// sidecar exposes /detect for stateless detection and /track for
// detection with persistent ids. Frames are sent JPEG-encoded.
type RemoteDetector struct {
	baseURL string
	client  httputil.HTTPClient
}

// NewRemoteDetector creates a detector client for the sidecar at baseURL.
// A nil client falls back to the standard HTTP client.
func NewRemoteDetector(baseURL string, client httputil.HTTPClient) *RemoteDetector {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &RemoteDetector{baseURL: baseURL, client: client}
}

type remoteRequest struct {
	Image         string  `json:"image"` // base64 JPEG
	Classes       []int   `json:"classes,omitempty"`
	MinConfidence float64 `json:"minConfidence"`
}

type remoteDetection struct {
	Class      int        `json:"class"`
	Confidence float64    `json:"confidence"`
	Box        [4]float64 `json:"box"` // x1, y1, x2, y2
	TrackID    *int64     `json:"trackId,omitempty"`
}

type remoteResponse struct {
	Detections []remoteDetection `json:"detections"`
}

// Detect runs stateless detection on one frame.
func (d *RemoteDetector) Detect(ctx context.Context, frame video.Frame, req Request) ([]Detection, error) {
	raw, err := d.call(ctx, "/detect", frame, req)
	if err != nil {
		return nil, err
	}
	out := make([]Detection, 0, len(raw))
	for _, r := range raw {
		if !req.Matches(r.Class) {
			continue
		}
		out = append(out, Detection{
			Class:      r.Class,
			Confidence: r.Confidence,
			Box:        Box{X1: r.Box[0], Y1: r.Box[1], X2: r.Box[2], Y2: r.Box[3]},
		})
	}
	return out, nil
}

// TrackedDetect runs detection with persistent ids. Detections the
// sidecar could not assign an id to are dropped; callers that want the
// untracked path use Detect instead.
func (d *RemoteDetector) TrackedDetect(ctx context.Context, frame video.Frame, req Request) ([]TrackedDetection, error) {
	raw, err := d.call(ctx, "/track", frame, req)
	if err != nil {
		return nil, err
	}
	out := make([]TrackedDetection, 0, len(raw))
	for _, r := range raw {
		if !req.Matches(r.Class) || r.TrackID == nil {
			continue
		}
		out = append(out, TrackedDetection{
			Detection: Detection{
				Class:      r.Class,
				Confidence: r.Confidence,
				Box:        Box{X1: r.Box[0], Y1: r.Box[1], X2: r.Box[2], Y2: r.Box[3]},
			},
			TrackID: *r.TrackID,
		})
	}
	return out, nil
}

func (d *RemoteDetector) call(ctx context.Context, path string, frame video.Frame, req Request) ([]remoteDetection, error) {
	var jpegBuf bytes.Buffer
	if err := jpeg.Encode(&jpegBuf, frame.Image(), &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	body, err := json.Marshal(remoteRequest{
		Image:         base64.StdEncoding.EncodeToString(jpegBuf.Bytes()),
		Classes:       req.Classes,
		MinConfidence: req.MinConfidence,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal detect request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("detector request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("detector returned %d: %s", resp.StatusCode, payload)
	}

	var parsed remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode detector response: %w", err)
	}
	return parsed.Detections, nil
}
