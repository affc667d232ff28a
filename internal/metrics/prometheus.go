package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the audio bridge
type Metrics struct {
	registry *prometheus.Registry

	// Recording metrics
	RecordingsStarted   prometheus.Counter
	RecordingsCompleted prometheus.Counter
	CaptureFailures     *prometheus.CounterVec
	CapturedBytes       prometheus.Counter
	RecordingDuration   prometheus.Histogram
	Resets              prometheus.Counter

	// Hand-off metrics
	TransfersStarted   prometheus.Counter
	TransfersCompleted prometheus.Counter
	Playbacks          prometheus.Counter
	Downloads          *prometheus.CounterVec
	DownloadSize       prometheus.Histogram
	LiveHandles        prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics on a private registry, together with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RecordingsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "audiobridge_recordings_started_total",
			Help: "Total number of recordings started",
		}),
		RecordingsCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "audiobridge_recordings_completed_total",
			Help: "Total number of recordings finalized into a clip",
		}),
		CaptureFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audiobridge_capture_failures_total",
			Help: "Total number of failed microphone acquisitions",
		}, []string{"reason"}),
		CapturedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "audiobridge_captured_bytes_total",
			Help: "Total PCM bytes delivered by capture streams",
		}),
		RecordingDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "audiobridge_recording_duration_seconds",
			Help:    "Duration of finalized recordings",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		}),
		Resets: f.NewCounter(prometheus.CounterOpts{
			Name: "audiobridge_session_resets_total",
			Help: "Total number of session resets",
		}),

		TransfersStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "audiobridge_transfers_started_total",
			Help: "Total number of simulated transfers started",
		}),
		TransfersCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "audiobridge_transfers_completed_total",
			Help: "Total number of simulated transfers completed",
		}),
		Playbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "audiobridge_playbacks_started_total",
			Help: "Total number of playback starts, including resumes",
		}),
		Downloads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audiobridge_downloads_total",
			Help: "Total number of clip downloads",
		}, []string{"format"}),
		DownloadSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "audiobridge_download_size_bytes",
			Help:    "Size of encoded clip downloads",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 14), // 1KB to ~16MB
		}),
		LiveHandles: f.NewGauge(prometheus.GaugeOpts{
			Name: "audiobridge_live_clip_handles",
			Help: "Current number of playable clip handles",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audiobridge_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "audiobridge_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audiobridge_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordRecordingStarted() {
	m.RecordingsStarted.Inc()
}

// RecordRecordingCompleted counts a finalized clip and its duration
func (m *Metrics) RecordRecordingCompleted(durationSeconds float64) {
	m.RecordingsCompleted.Inc()
	m.RecordingDuration.Observe(durationSeconds)
}

// RecordCaptureFailure counts a failed acquisition; reason is
// "permission_denied", "device_unavailable" or "other".
func (m *Metrics) RecordCaptureFailure(reason string) {
	m.CaptureFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) AddCapturedBytes(n int) {
	m.CapturedBytes.Add(float64(n))
}

func (m *Metrics) RecordReset() {
	m.Resets.Inc()
}

func (m *Metrics) RecordTransferStarted() {
	m.TransfersStarted.Inc()
}

func (m *Metrics) RecordTransferCompleted() {
	m.TransfersCompleted.Inc()
}

func (m *Metrics) RecordPlayback() {
	m.Playbacks.Inc()
}

// RecordDownload records an encoded download
func (m *Metrics) RecordDownload(format string, sizeBytes int) {
	m.Downloads.WithLabelValues(format).Inc()
	m.DownloadSize.Observe(float64(sizeBytes))
}

func (m *Metrics) SetLiveHandles(n int) {
	m.LiveHandles.Set(float64(n))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
