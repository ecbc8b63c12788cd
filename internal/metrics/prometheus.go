package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice chat client
type Metrics struct {
	// Capture metrics
	RecordingActive   prometheus.Gauge
	Recordings        prometheus.Counter
	RecordingDuration prometheus.Histogram
	RecordingSize     prometheus.Histogram
	CaptureFailures   prometheus.Counter

	// Upload metrics
	UploadRequests  prometheus.Counter
	UploadSuccesses prometheus.Counter
	UploadFailures  *prometheus.CounterVec
	UploadDuration  prometheus.Histogram

	// Decode metrics
	DecodedPayloads *prometheus.CounterVec
	DecodeFailures  prometheus.Counter

	// Playback metrics
	PlayAttempts    prometheus.Counter
	AutoplayBlocked prometheus.Counter
	PlaybackResumes prometheus.Counter
	PlaybackErrors  prometheus.Counter
	LiveObjectURLs  prometheus.Gauge

	// Conversation metrics
	Messages *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a private registry and registers all metrics on it
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := newMetrics(promauto.With(reg))
	m.registry = reg
	return m
}

// Registry returns the registry the metrics are registered on, for /metrics exposure
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func newMetrics(f promauto.Factory) *Metrics {
	return &Metrics{
		// Capture metrics
		RecordingActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "voicechat_recording_active",
			Help: "Whether a microphone recording is in progress",
		}),
		Recordings: f.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_recordings_total",
			Help: "Total number of finalized recordings",
		}),
		RecordingDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicechat_recording_duration_seconds",
			Help:    "Duration of finalized recordings",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s to ~1 minute
		}),
		RecordingSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicechat_recording_size_bytes",
			Help:    "Size of finalized recordings in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),
		CaptureFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_capture_failures_total",
			Help: "Total number of failed capture attempts",
		}),

		// Upload metrics
		UploadRequests: f.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_upload_requests_total",
			Help: "Total number of voice message uploads",
		}),
		UploadSuccesses: f.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_upload_successes_total",
			Help: "Total number of successful voice message uploads",
		}),
		UploadFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicechat_upload_failures_total",
			Help: "Total number of failed voice message uploads",
		}, []string{"status_code"}),
		UploadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicechat_upload_duration_seconds",
			Help:    "Duration of voice message uploads",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1 minute
		}),

		// Decode metrics
		DecodedPayloads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicechat_decoded_payloads_total",
			Help: "Total number of reply audio payloads decoded, by resulting source kind",
		}, []string{"kind"}),
		DecodeFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_decode_failures_total",
			Help: "Total number of reply audio payloads in an unsupported format",
		}),

		// Playback metrics
		PlayAttempts: f.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_play_attempts_total",
			Help: "Total number of play attempts on the shared output",
		}),
		AutoplayBlocked: f.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_autoplay_blocked_total",
			Help: "Total number of play attempts rejected until user interaction",
		}),
		PlaybackResumes: f.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_playback_resumes_total",
			Help: "Total number of playback retries triggered by user interaction",
		}),
		PlaybackErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_playback_errors_total",
			Help: "Total number of media errors reported by the output",
		}),
		LiveObjectURLs: f.NewGauge(prometheus.GaugeOpts{
			Name: "voicechat_live_object_urls",
			Help: "Current number of unrevoked object URLs",
		}),

		// Conversation metrics
		Messages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicechat_messages_total",
			Help: "Total number of conversation messages appended",
		}, []string{"sender", "with_audio"}),

		// HTTP API metrics
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicechat_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voicechat_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicechat_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// SetRecordingActive sets the recording-in-progress gauge
func (m *Metrics) SetRecordingActive(active bool) {
	if active {
		m.RecordingActive.Set(1)
	} else {
		m.RecordingActive.Set(0)
	}
}

// RecordRecording records a finalized recording
func (m *Metrics) RecordRecording(durationSeconds float64, sizeBytes int) {
	m.Recordings.Inc()
	m.RecordingDuration.Observe(durationSeconds)
	m.RecordingSize.Observe(float64(sizeBytes))
}

// RecordCaptureFailure increments the capture failures counter
func (m *Metrics) RecordCaptureFailure() {
	m.CaptureFailures.Inc()
}

// RecordUploadRequest increments the upload requests counter
func (m *Metrics) RecordUploadRequest() {
	m.UploadRequests.Inc()
}

// RecordUploadSuccess records a successful upload
func (m *Metrics) RecordUploadSuccess(durationSeconds float64) {
	m.UploadSuccesses.Inc()
	m.UploadDuration.Observe(durationSeconds)
}

// RecordUploadFailure records a failed upload; statusCode is "0" for network errors
func (m *Metrics) RecordUploadFailure(statusCode string, durationSeconds float64) {
	m.UploadFailures.WithLabelValues(statusCode).Inc()
	m.UploadDuration.Observe(durationSeconds)
}

// RecordDecoded records a decoded payload by the kind of source produced
func (m *Metrics) RecordDecoded(kind string) {
	m.DecodedPayloads.WithLabelValues(kind).Inc()
}

// RecordDecodeFailure increments the unsupported payload counter
func (m *Metrics) RecordDecodeFailure() {
	m.DecodeFailures.Inc()
}

// RecordPlayAttempt increments the play attempts counter
func (m *Metrics) RecordPlayAttempt() {
	m.PlayAttempts.Inc()
}

// RecordAutoplayBlocked increments the autoplay blocked counter
func (m *Metrics) RecordAutoplayBlocked() {
	m.AutoplayBlocked.Inc()
}

// RecordPlaybackResume increments the playback resumes counter
func (m *Metrics) RecordPlaybackResume() {
	m.PlaybackResumes.Inc()
}

// RecordPlaybackError increments the playback errors counter
func (m *Metrics) RecordPlaybackError() {
	m.PlaybackErrors.Inc()
}

// SetLiveObjectURLs sets the current number of unrevoked object URLs
func (m *Metrics) SetLiveObjectURLs(count int) {
	m.LiveObjectURLs.Set(float64(count))
}

// RecordMessage records an appended conversation message
func (m *Metrics) RecordMessage(sender string, withAudio bool) {
	audio := "false"
	if withAudio {
		audio = "true"
	}
	m.Messages.WithLabelValues(sender, audio).Inc()
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
