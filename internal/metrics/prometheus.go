package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the meeting monitor.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Capture metrics
	CaptureFrames   *prometheus.CounterVec
	CaptureDegraded *prometheus.CounterVec
	DecodeErrors    prometheus.Counter

	// Session metrics
	SessionsStarted  prometheus.Counter
	SessionsEnded    *prometheus.CounterVec
	SessionDuration  prometheus.Histogram
	EventsAccepted   *prometheus.CounterVec
	RecoverableError *prometheus.CounterVec

	// Window assembly metrics
	WindowsEmitted prometheus.Counter
	WindowsDropped prometheus.Counter
	PendingWindows prometheus.Gauge

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram
	TranscriptionRetries   prometheus.Counter
	SegmentsFiltered       *prometheus.CounterVec
	SilentWindows          prometheus.Counter

	// Extraction and insight metrics
	EntitiesDiscovered *prometheus.CounterVec
	InsightCalls       *prometheus.CounterVec
	InsightDuration    *prometheus.HistogramVec
	InsightFallbacks   *prometheus.CounterVec
	HintCyclesSkipped  prometheus.Counter

	// Persistence metrics
	PersistenceWrites  *prometheus.CounterVec
	PersistenceRetries prometheus.Counter
	PersistenceQueue   prometheus.Gauge
	PersistenceDropped prometheus.Counter

	// Fan-out metrics
	Subscribers             prometheus.Gauge
	SubscribersDisconnected *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// Passing nil registers with the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		// Capture metrics
		CaptureFrames: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mm_capture_frames_total",
			Help: "Total number of capture frames received by type",
		}, []string{"type"}),
		CaptureDegraded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mm_capture_degraded_total",
			Help: "Total number of capture degradation reports by condition",
		}, []string{"source", "condition"}),
		DecodeErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "mm_capture_decode_errors_total",
			Help: "Total number of capture frames that failed to decode",
		}),

		// Session metrics
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "mm_sessions_started_total",
			Help: "Total number of sessions started",
		}),
		SessionsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mm_sessions_ended_total",
			Help: "Total number of sessions ended by outcome",
		}, []string{"outcome"}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mm_session_duration_seconds",
			Help:    "Duration of sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10s to ~85 minutes
		}),
		EventsAccepted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mm_events_accepted_total",
			Help: "Total number of sequenced session events by type",
		}, []string{"type"}),
		RecoverableError: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mm_recoverable_errors_total",
			Help: "Total number of recoverable stage errors by stage",
		}, []string{"stage"}),

		// Window assembly metrics
		WindowsEmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "mm_audio_windows_emitted_total",
			Help: "Total number of audio windows emitted by the assembler",
		}),
		WindowsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "mm_audio_windows_dropped_total",
			Help: "Total number of audio windows dropped under backpressure",
		}),
		PendingWindows: f.NewGauge(prometheus.GaugeOpts{
			Name: "mm_audio_windows_pending",
			Help: "Current number of windows waiting for transcription",
		}),

		// Transcription metrics
		TranscriptionRequests: f.NewCounter(prometheus.CounterOpts{
			Name: "mm_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionSuccesses: f.NewCounter(prometheus.CounterOpts{
			Name: "mm_transcription_successes_total",
			Help: "Total number of successful transcription requests",
		}),
		TranscriptionFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "mm_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mm_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		TranscriptionRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "mm_transcription_retries_total",
			Help: "Total number of transcription request retries",
		}),
		SegmentsFiltered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mm_segments_filtered_total",
			Help: "Total number of transcript segments dropped by the hallucination filter",
		}, []string{"reason"}),
		SilentWindows: f.NewCounter(prometheus.CounterOpts{
			Name: "mm_silent_windows_total",
			Help: "Total number of windows skipped as silence",
		}),

		// Extraction and insight metrics
		EntitiesDiscovered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mm_entities_discovered_total",
			Help: "Total number of distinct entities discovered by kind",
		}, []string{"kind"}),
		InsightCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mm_insight_calls_total",
			Help: "Total number of insight provider calls by operation and result",
		}, []string{"operation", "result"}),
		InsightDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mm_insight_duration_seconds",
			Help:    "Duration of insight provider calls",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"operation"}),
		InsightFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mm_insight_fallbacks_total",
			Help: "Total number of deterministic fallback insights emitted",
		}, []string{"operation"}),
		HintCyclesSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "mm_hint_cycles_skipped_total",
			Help: "Total number of hint cycles skipped because the previous one was running or context was short",
		}),

		// Persistence metrics
		PersistenceWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mm_persistence_writes_total",
			Help: "Total number of persistence writes by operation and result",
		}, []string{"operation", "result"}),
		PersistenceRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "mm_persistence_retries_total",
			Help: "Total number of persistence write retries",
		}),
		PersistenceQueue: f.NewGauge(prometheus.GaugeOpts{
			Name: "mm_persistence_queue_size",
			Help: "Current number of writes waiting in the persistence queue",
		}),
		PersistenceDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "mm_persistence_dropped_total",
			Help: "Total number of writes abandoned after retries or queue overflow",
		}),

		// Fan-out metrics
		Subscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "mm_subscribers",
			Help: "Current number of live event subscribers",
		}),
		SubscribersDisconnected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mm_subscribers_disconnected_total",
			Help: "Total number of subscribers disconnected by reason",
		}, []string{"reason"}),

		// HTTP API metrics
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mm_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mm_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mm_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordCaptureFrame increments the capture frame counter for a frame type
func (m *Metrics) RecordCaptureFrame(frameType string) {
	if m == nil {
		return
	}
	m.CaptureFrames.WithLabelValues(frameType).Inc()
}

// RecordCaptureDegraded records a capture degradation report
func (m *Metrics) RecordCaptureDegraded(source, condition string) {
	if m == nil {
		return
	}
	m.CaptureDegraded.WithLabelValues(source, condition).Inc()
}

// RecordDecodeError increments the capture decode error counter
func (m *Metrics) RecordDecodeError() {
	if m == nil {
		return
	}
	m.DecodeErrors.Inc()
}

// RecordSessionStarted increments the sessions started counter
func (m *Metrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

// RecordSessionEnded records a finished session and its duration
func (m *Metrics) RecordSessionEnded(outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SessionsEnded.WithLabelValues(outcome).Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordEvent increments the accepted event counter for an event type
func (m *Metrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.EventsAccepted.WithLabelValues(eventType).Inc()
}

// RecordRecoverableError increments the recoverable error counter for a stage
func (m *Metrics) RecordRecoverableError(stage string) {
	if m == nil {
		return
	}
	m.RecoverableError.WithLabelValues(stage).Inc()
}

// RecordWindowEmitted increments the emitted window counter
func (m *Metrics) RecordWindowEmitted() {
	if m == nil {
		return
	}
	m.WindowsEmitted.Inc()
}

// RecordWindowDropped increments the dropped window counter
func (m *Metrics) RecordWindowDropped() {
	if m == nil {
		return
	}
	m.WindowsDropped.Inc()
}

// SetPendingWindows sets the current number of pending windows
func (m *Metrics) SetPendingWindows(count int) {
	if m == nil {
		return
	}
	m.PendingWindows.Set(float64(count))
}

// RecordTranscriptionRequest increments transcription requests counter
func (m *Metrics) RecordTranscriptionRequest() {
	if m == nil {
		return
	}
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionRetry increments the retry counter
func (m *Metrics) RecordTranscriptionRetry() {
	if m == nil {
		return
	}
	m.TranscriptionRetries.Inc()
}

// RecordSegmentFiltered records a segment dropped by the hallucination filter
func (m *Metrics) RecordSegmentFiltered(reason string) {
	if m == nil {
		return
	}
	m.SegmentsFiltered.WithLabelValues(reason).Inc()
}

// RecordSilentWindow increments the silent window counter
func (m *Metrics) RecordSilentWindow() {
	if m == nil {
		return
	}
	m.SilentWindows.Inc()
}

// RecordEntityDiscovered records a new distinct entity
func (m *Metrics) RecordEntityDiscovered(kind string) {
	if m == nil {
		return
	}
	m.EntitiesDiscovered.WithLabelValues(kind).Inc()
}

// RecordInsightCall records an insight provider call and its outcome
func (m *Metrics) RecordInsightCall(operation string, success bool, durationSeconds float64) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.InsightCalls.WithLabelValues(operation, result).Inc()
	m.InsightDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordInsightFallback records a fallback insight
func (m *Metrics) RecordInsightFallback(operation string) {
	if m == nil {
		return
	}
	m.InsightFallbacks.WithLabelValues(operation).Inc()
}

// RecordHintCycleSkipped increments the skipped hint cycle counter
func (m *Metrics) RecordHintCycleSkipped() {
	if m == nil {
		return
	}
	m.HintCyclesSkipped.Inc()
}

// RecordPersistenceWrite records a persistence write outcome
func (m *Metrics) RecordPersistenceWrite(operation string, success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.PersistenceWrites.WithLabelValues(operation, result).Inc()
}

// RecordPersistenceRetry increments the persistence retry counter
func (m *Metrics) RecordPersistenceRetry() {
	if m == nil {
		return
	}
	m.PersistenceRetries.Inc()
}

// SetPersistenceQueue sets the current persistence queue length
func (m *Metrics) SetPersistenceQueue(size int) {
	if m == nil {
		return
	}
	m.PersistenceQueue.Set(float64(size))
}

// RecordPersistenceDropped increments the abandoned write counter
func (m *Metrics) RecordPersistenceDropped() {
	if m == nil {
		return
	}
	m.PersistenceDropped.Inc()
}

// SetSubscribers sets the current number of subscribers
func (m *Metrics) SetSubscribers(count int) {
	if m == nil {
		return
	}
	m.Subscribers.Set(float64(count))
}

// RecordSubscriberDisconnected records a subscriber removal
func (m *Metrics) RecordSubscriberDisconnected(reason string) {
	if m == nil {
		return
	}
	m.SubscribersDisconnected.WithLabelValues(reason).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
