// Package session owns the lifecycle of live-stream processing sessions.
// Each session runs one background capture→detect→aggregate loop; the
// manager serialises start/stop/lookup against a shared registry.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/greenwave.report/internal/detect"
	"github.com/banshee-data/greenwave.report/internal/flow"
	"github.com/banshee-data/greenwave.report/internal/metrics"
	"github.com/banshee-data/greenwave.report/internal/monitoring"
	"github.com/banshee-data/greenwave.report/internal/timeutil"
	"github.com/banshee-data/greenwave.report/internal/video"
)

// ErrSourceUnavailable reports that the capture source failed the
// synchronous open probe performed by Start.
var ErrSourceUnavailable = video.ErrSourceUnavailable

// Config holds per-session processing parameters.
type Config struct {
	// TargetFPS bounds the processing rate via a pacing sleep.
	TargetFPS float64
	// Alpha is the EMA smoothing factor for per-second rates.
	Alpha float64
	// SlopeWindow is the trailing trend window in buckets.
	SlopeWindow int64
	// SampleCap bounds the retained rate-sample series.
	SampleCap int
	// StopGrace bounds how long Stop waits for loop shutdown.
	StopGrace time.Duration
	// Request selects the detection classes and confidence floor.
	Request detect.Request
	// MaxFrameSide bounds frame size before detection (0 disables resize).
	MaxFrameSide int
}

// DefaultConfig returns the live-session defaults.
func DefaultConfig() Config {
	return Config{
		TargetFPS:    5.0,
		Alpha:        0.3,
		SlopeWindow:  12,
		SampleCap:    600,
		StopGrace:    2 * time.Second,
		Request:      detect.Request{Classes: []int{2, 3, 5, 7}, MinConfidence: 0.3},
		MaxFrameSide: 640,
	}
}

// SampleRecorder receives closed-bucket samples for write-behind
// persistence. Failures are logged, never propagated into the loop.
type SampleRecorder interface {
	RecordStreamSample(sessionID string, s flow.Sample) error
}

// Snapshot is a point-in-time read of a session's metrics.
type Snapshot struct {
	SessionID                string  `json:"sessionId"`
	CurrentFrameVehicleCount int     `json:"currentFrameVehicleCount"`
	VehiclesPerSecond        float64 `json:"vehiclesPerSecond"`
	RateOfChange             float64 `json:"rateOfChange"`
	DataPoints               int     `json:"dataPoints"`
}

// Manager registers and controls live sessions. All methods are safe for
// concurrent use.
type Manager struct {
	detector detect.Detector
	opener   video.Opener
	clock    timeutil.Clock
	met      *metrics.Metrics
	recorder SampleRecorder // may be nil
	cfg      Config

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager. recorder may be nil to disable
// sample persistence.
func NewManager(detector detect.Detector, opener video.Opener, clock timeutil.Clock, met *metrics.Metrics, recorder SampleRecorder, cfg Config) *Manager {
	return &Manager{
		detector: detector,
		opener:   opener,
		clock:    clock,
		met:      met,
		recorder: recorder,
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Start probes the capture source synchronously, then launches the
// session loop and returns its id. An unopenable source returns
// ErrSourceUnavailable instead of a session doomed to stay silent.
func (m *Manager) Start(source string) (string, error) {
	src, err := m.opener.Open(source)
	if err != nil {
		if errors.Is(err, video.ErrSourceUnavailable) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	s := newSession(source, m)

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.met.SessionsStarted.Add(1)
	m.met.ActiveSessions.Add(1)
	go s.run(src)

	return s.ID, nil
}

// Stop cancels a session's loop, waits up to the grace period for it to
// acknowledge, and removes it from the registry. Reports whether a
// session with that id existed.
func (m *Manager) Stop(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return false
	}

	s.cancel()
	select {
	case <-s.done:
	case <-m.clock.After(m.cfg.StopGrace):
		monitoring.Logf("session %s did not stop within grace period", id)
	}

	m.met.SessionsStopped.Add(1)
	m.met.ActiveSessions.Add(-1)
	return true
}

// Metrics returns a snapshot of the session's current state, or false if
// the id is unknown or already stopped. A snapshot taken before the
// first bucket closes reports zero rate, zero slope, and zero samples.
func (m *Manager) Metrics(id string) (Snapshot, bool) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return s.snapshot(), true
}

// Samples returns a copy of the session's retained rate samples.
func (m *Manager) Samples(id string) ([]flow.Sample, bool) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.series.Samples(), true
}

// Shutdown stops every registered session; used at process exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Stop(id)
	}
}

// Session is one live ingestion. Its aggregation state is mutated only by
// its own loop goroutine and read by snapshot queries under mu.
type Session struct {
	ID     string
	Source string

	mgr    *Manager
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	latestCount int
	series      *flow.Series
	agg         *flow.Aggregator
	hz          *observedHz
}

func newSession(source string, m *Manager) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	series := flow.NewSeries(m.cfg.SampleCap)
	hz := &observedHz{clock: m.clock}
	return &Session{
		ID:     uuid.New().String(),
		Source: source,
		mgr:    m,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		series: series,
		agg:    flow.NewAggregator(m.cfg.Alpha, hz, series),
		hz:     hz,
	}
}

// observedHz converts frames-per-bucket into an effective sampling
// frequency using the wall-clock time elapsed since the previous close.
// Live sessions self-calibrate this way because achieved throughput
// varies with system load.
type observedHz struct {
	clock     timeutil.Clock
	lastClose time.Time
}

func (o *observedHz) EffectiveHz(frames int) float64 {
	now := o.clock.Now()
	elapsed := now.Sub(o.lastClose).Seconds()
	o.lastClose = now
	if elapsed <= 0 {
		return float64(frames)
	}
	return float64(frames) / elapsed
}

func (s *Session) run(src video.FrameSource) {
	defer close(s.done)
	defer src.Close()

	cfg := s.mgr.cfg
	interval := time.Duration(float64(time.Second) / cfg.TargetFPS)
	s.hz.lastClose = s.mgr.clock.Now()

	for {
		if s.ctx.Err() != nil {
			return
		}
		loopStart := s.mgr.clock.Now()

		frame, err := src.Next()
		if err != nil {
			if err == io.EOF {
				// Stream ended; keep the session queryable until stopped.
				return
			}
			s.mgr.clock.Sleep(50 * time.Millisecond)
			continue
		}
		frame = video.ResizeFrame(frame, cfg.MaxFrameSide)

		dets, err := s.mgr.detector.Detect(s.ctx, frame, cfg.Request)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.mgr.met.DetectErrors.Add(1)
			monitoring.Logf("session %s: detection failed: %v", s.ID, err)
			s.mgr.clock.Sleep(50 * time.Millisecond)
			continue
		}
		count := len(dets)

		s.mu.Lock()
		s.latestCount = count
		sample, closed := s.agg.Observe(count, s.mgr.clock.Now().Unix())
		s.mu.Unlock()

		s.mgr.met.FramesProcessed.Add(1)
		s.mgr.met.DetectionsTotal.Add(uint64(count))
		if closed {
			s.mgr.met.BucketsClosed.Add(1)
			if s.mgr.recorder != nil {
				if err := s.mgr.recorder.RecordStreamSample(s.ID, sample); err != nil {
					monitoring.Logf("session %s: failed to record sample: %v", s.ID, err)
				}
			}
		}

		// Pace toward the target rate; short sleeps keep stop latency low.
		if remaining := interval - s.mgr.clock.Since(loopStart); remaining > 0 {
			if remaining > 20*time.Millisecond {
				remaining = 20 * time.Millisecond
			}
			s.mgr.clock.Sleep(remaining)
		}
	}
}

func (s *Session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		SessionID:                s.ID,
		CurrentFrameVehicleCount: s.latestCount,
		VehiclesPerSecond:        s.agg.EMA(),
		RateOfChange:             s.series.Slope(s.mgr.cfg.SlopeWindow),
		DataPoints:               s.series.Len(),
	}
}
