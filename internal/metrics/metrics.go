// Package metrics exposes process counters over Prometheus.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the application counters. The atomic fields are updated
// from the hot paths; Prometheus reads them lazily through GaugeFuncs on
// scrape.
type Metrics struct {
	FramesProcessed  atomic.Uint64
	DetectionsTotal  atomic.Uint64
	BucketsClosed    atomic.Uint64
	SessionsStarted  atomic.Uint64
	SessionsStopped  atomic.Uint64
	ActiveSessions   atomic.Int64
	AnalysesStarted  atomic.Uint64
	AnalysesFinished atomic.Uint64
	DetectErrors     atomic.Uint64

	registry *prometheus.Registry
}

// New creates a Metrics instance with its own Prometheus registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.register()
	return m
}

func (m *Metrics) register() {
	counters := []struct {
		name string
		help string
		load func() float64
	}{
		{"greenwave_frames_processed_total", "Frames run through detection", func() float64 { return float64(m.FramesProcessed.Load()) }},
		{"greenwave_detections_total", "Vehicle detections across all frames", func() float64 { return float64(m.DetectionsTotal.Load()) }},
		{"greenwave_buckets_closed_total", "Aggregation buckets closed", func() float64 { return float64(m.BucketsClosed.Load()) }},
		{"greenwave_sessions_started_total", "Live stream sessions started", func() float64 { return float64(m.SessionsStarted.Load()) }},
		{"greenwave_sessions_stopped_total", "Live stream sessions stopped", func() float64 { return float64(m.SessionsStopped.Load()) }},
		{"greenwave_analyses_started_total", "Offline video analyses started", func() float64 { return float64(m.AnalysesStarted.Load()) }},
		{"greenwave_analyses_finished_total", "Offline video analyses finished", func() float64 { return float64(m.AnalysesFinished.Load()) }},
		{"greenwave_detect_errors_total", "Detection adapter call failures", func() float64 { return float64(m.DetectErrors.Load()) }},
	}
	for _, c := range counters {
		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: c.name, Help: c.help}, c.load))
	}

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "greenwave_active_sessions",
			Help: "Live stream sessions currently running",
		},
		func() float64 { return float64(m.ActiveSessions.Load()) },
	))
}

// Handler returns the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
