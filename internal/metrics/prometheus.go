package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice capture service
type Metrics struct {
	// Metering metrics
	SamplesTaken   prometheus.Counter
	SilenceSamples prometheus.Counter
	Power          prometheus.Gauge
	Recording      prometheus.Gauge

	// Segment metrics
	Rotations         prometheus.Counter
	SegmentsFinalized prometheus.Counter
	SegmentsSubmitted prometheus.Counter
	SegmentsDiscarded prometheus.Counter
	SegmentDuration   prometheus.Histogram
	CaptureErrors     *prometheus.CounterVec

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  *prometheus.CounterVec
	TranscriptionDuration  prometheus.Histogram
	TranscriptionsInFlight prometheus.Gauge
	TranscriptEntries      prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
	LiveClients         prometheus.Gauge
}

// NewMetrics creates all Prometheus metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Metering metrics
		SamplesTaken: factory.NewCounter(prometheus.CounterOpts{
			Name: "soaper_meter_samples_total",
			Help: "Total number of power meter samples taken",
		}),
		SilenceSamples: factory.NewCounter(prometheus.CounterOpts{
			Name: "soaper_meter_silence_samples_total",
			Help: "Total number of samples classified as silence",
		}),
		Power: factory.NewGauge(prometheus.GaugeOpts{
			Name: "soaper_meter_power_db",
			Help: "Most recent average input power in dBFS",
		}),
		Recording: factory.NewGauge(prometheus.GaugeOpts{
			Name: "soaper_recording",
			Help: "1 while a capture session is live",
		}),

		// Segment metrics
		Rotations: factory.NewCounter(prometheus.CounterOpts{
			Name: "soaper_rotations_total",
			Help: "Total number of silence-triggered capture rotations",
		}),
		SegmentsFinalized: factory.NewCounter(prometheus.CounterOpts{
			Name: "soaper_segments_finalized_total",
			Help: "Total number of segments finalized",
		}),
		SegmentsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "soaper_segments_submitted_total",
			Help: "Total number of segments submitted for transcription",
		}),
		SegmentsDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "soaper_segments_discarded_total",
			Help: "Total number of finalized segments not submitted",
		}),
		SegmentDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "soaper_segment_duration_seconds",
			Help:    "Duration of finalized segments",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s to ~1 minute
		}),
		CaptureErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "soaper_capture_errors_total",
			Help: "Total number of capture errors",
		}, []string{"type"}),

		// Transcription metrics
		TranscriptionRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "soaper_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "soaper_transcription_successes_total",
			Help: "Total number of successful transcription requests",
		}),
		TranscriptionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "soaper_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}, []string{"reason"}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "soaper_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1 minute
		}),
		TranscriptionsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "soaper_transcriptions_in_flight",
			Help: "Current number of transcription requests in flight",
		}),
		TranscriptEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "soaper_transcript_entries",
			Help: "Current number of entries in the transcript",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "soaper_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "soaper_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "soaper_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
		LiveClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "soaper_live_clients",
			Help: "Current number of live feed WebSocket clients",
		}),
	}
}

// RecordSample records one meter reading
func (m *Metrics) RecordSample(power float64) {
	m.SamplesTaken.Inc()
	m.Power.Set(power)
}

// RecordSilence increments the silence samples counter
func (m *Metrics) RecordSilence() {
	m.SilenceSamples.Inc()
}

// SetRecording sets the recording gauge
func (m *Metrics) SetRecording(recording bool) {
	if recording {
		m.Recording.Set(1)
	} else {
		m.Recording.Set(0)
	}
}

// RecordRotation increments the rotations counter
func (m *Metrics) RecordRotation() {
	m.Rotations.Inc()
}

// RecordSegmentFinalized records a finalized segment and whether it was submitted
func (m *Metrics) RecordSegmentFinalized(durationSeconds float64, submitted bool) {
	m.SegmentsFinalized.Inc()
	m.SegmentDuration.Observe(durationSeconds)
	if submitted {
		m.SegmentsSubmitted.Inc()
	} else {
		m.SegmentsDiscarded.Inc()
	}
}

// RecordCaptureError records a capture error of the given type (init, finalize, input)
func (m *Metrics) RecordCaptureError(errorType string) {
	m.CaptureErrors.WithLabelValues(errorType).Inc()
}

// RecordTranscriptionRequest increments transcription requests and in-flight gauge
func (m *Metrics) RecordTranscriptionRequest() {
	m.TranscriptionRequests.Inc()
	m.TranscriptionsInFlight.Inc()
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
	m.TranscriptionsInFlight.Dec()
}

// RecordTranscriptionFailure records a failed transcription (reason: request, response)
func (m *Metrics) RecordTranscriptionFailure(reason string, durationSeconds float64) {
	m.TranscriptionFailures.WithLabelValues(reason).Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
	m.TranscriptionsInFlight.Dec()
}

// SetTranscriptEntries sets the transcript entries gauge
func (m *Metrics) SetTranscriptEntries(count int) {
	m.TranscriptEntries.Set(float64(count))
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

// SetLiveClients sets the number of connected live feed clients
func (m *Metrics) SetLiveClients(count int) {
	m.LiveClients.Set(float64(count))
}
