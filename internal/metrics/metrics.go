package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the audio session.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Source resolution
	ResolveAttempts *prometheus.CounterVec
	ResolveDuration prometheus.Histogram
	ResolveFailures prometheus.Counter

	// Playback
	PlaysStarted          prometheus.Counter
	PlaysFinished         *prometheus.CounterVec
	VisualizationDegraded prometheus.Counter
	Playing               prometheus.Gauge

	// Recording
	RecordingsStarted  prometheus.Counter
	RecordingsFailed   *prometheus.CounterVec
	RecordingDuration  prometheus.Histogram
	CapturedAudioBytes prometheus.Histogram

	// Backend
	BackendRequests *prometheus.CounterVec
	BackendDuration *prometheus.HistogramVec
}

// NewMetrics creates the metrics on a private registry so multiple instances
// can coexist (tests, embedded use).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ResolveAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicecall_resolve_attempts_total",
			Help: "Candidate location load attempts by outcome",
		}, []string{"outcome"}),
		ResolveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicecall_resolve_duration_seconds",
			Help:    "Time spent resolving a playable candidate",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}),
		ResolveFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicecall_resolve_failures_total",
			Help: "Resolutions where every candidate failed",
		}),

		PlaysStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicecall_plays_started_total",
			Help: "Playbacks that reached the playing state",
		}),
		PlaysFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicecall_plays_finished_total",
			Help: "Playbacks that left the playing state by reason",
		}, []string{"reason"}),
		VisualizationDegraded: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicecall_visualization_degraded_total",
			Help: "Playbacks that fell back to synthetic volume",
		}),
		Playing: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicecall_playing",
			Help: "1 while a response is playing",
		}),

		RecordingsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicecall_recordings_started_total",
			Help: "Recording sessions started",
		}),
		RecordingsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicecall_recordings_failed_total",
			Help: "Recording sessions that failed by stage",
		}, []string{"stage"}),
		RecordingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicecall_recording_duration_seconds",
			Help:    "Length of completed recordings",
			Buckets: prometheus.LinearBuckets(1, 5, 12),
		}),
		CapturedAudioBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicecall_captured_audio_bytes",
			Help:    "Size of captured audio blobs",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}),

		BackendRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicecall_backend_requests_total",
			Help: "Requests to the conversational backend",
		}, []string{"endpoint", "status"}),
		BackendDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voicecall_backend_request_duration_seconds",
			Help:    "Backend request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordResolveAttempt(outcome string) {
	if m == nil {
		return
	}
	m.ResolveAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordResolve(d time.Duration, ok bool) {
	if m == nil {
		return
	}
	m.ResolveDuration.Observe(d.Seconds())
	if !ok {
		m.ResolveFailures.Inc()
	}
}

func (m *Metrics) RecordPlayStarted(degraded bool) {
	if m == nil {
		return
	}
	m.PlaysStarted.Inc()
	m.Playing.Set(1)
	if degraded {
		m.VisualizationDegraded.Inc()
	}
}

func (m *Metrics) RecordPlayFinished(reason string) {
	if m == nil {
		return
	}
	m.PlaysFinished.WithLabelValues(reason).Inc()
	m.Playing.Set(0)
}

func (m *Metrics) RecordRecordingStarted() {
	if m == nil {
		return
	}
	m.RecordingsStarted.Inc()
}

func (m *Metrics) RecordRecordingFailed(stage string) {
	if m == nil {
		return
	}
	m.RecordingsFailed.WithLabelValues(stage).Inc()
}

func (m *Metrics) RecordRecordingFinished(d time.Duration, size int) {
	if m == nil {
		return
	}
	m.RecordingDuration.Observe(d.Seconds())
	m.CapturedAudioBytes.Observe(float64(size))
}

func (m *Metrics) RecordBackendRequest(endpoint, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.BackendRequests.WithLabelValues(endpoint, status).Inc()
	m.BackendDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}
