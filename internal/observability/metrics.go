package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dictation_active_sessions",
		Help: "Number of active recording sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dictation_sessions_total",
		Help: "Total number of recording sessions started",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dictation_session_duration_seconds",
		Help:    "Duration of recording sessions in seconds",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800},
	})

	// Transcription metrics
	transcriptionEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dictation_transcription_events_total",
		Help: "Total transcription results received",
	}, []string{"finality"}) // finality: "final" or "interim"

	reconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dictation_reconnect_attempts_total",
		Help: "Total transcription connection reconnect attempts",
	})

	connectionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dictation_connection_failures_total",
		Help: "Total transcription connection failures",
	}, []string{"kind"}) // kind: "connect", "auth", "midstream", "audio_format"

	// Note generation metrics
	noteRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dictation_note_requests_total",
		Help: "Total number of note generation requests",
	}, []string{"status"})

	noteLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dictation_note_latency_seconds",
		Help:    "Note generation latency in seconds",
		Buckets: []float64{0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	})

	// Audio metrics
	audioBytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dictation_audio_bytes_sent_total",
		Help: "Total audio bytes sent to the transcription backend",
	})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dictation_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})
)

// SessionMetrics tracks metrics for a single recording session
type SessionMetrics struct {
	sessionID     string
	startTime     time.Time
	noteStartTime time.Time
	mu            sync.Mutex
}

// NewSessionMetrics creates a metrics tracker for a session
func NewSessionMetrics(sessionID string) *SessionMetrics {
	return &SessionMetrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a recording session
func (m *SessionMetrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a recording session
func (m *SessionMetrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordNoteStart records the start of note generation
func (m *SessionMetrics) RecordNoteStart() {
	m.mu.Lock()
	m.noteStartTime = time.Now()
	m.mu.Unlock()
}

// RecordNoteEnd records the end of note generation
func (m *SessionMetrics) RecordNoteEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.noteStartTime.IsZero() {
		noteLatency.Observe(time.Since(m.noteStartTime).Seconds())
	}

	status := "success"
	if !success {
		status = "error"
	}
	noteRequests.WithLabelValues(status).Inc()
}

// RecordTranscriptionEvent records a transcription result by finality
func RecordTranscriptionEvent(isFinal bool) {
	finality := "interim"
	if isFinal {
		finality = "final"
	}
	transcriptionEvents.WithLabelValues(finality).Inc()
}

// RecordReconnectAttempt records a reconnection attempt
func RecordReconnectAttempt() {
	reconnectAttempts.Inc()
}

// RecordConnectionFailure records a connection failure by kind
func RecordConnectionFailure(kind string) {
	connectionFailures.WithLabelValues(kind).Inc()
}

// RecordAudioBytesSent records audio bytes sent upstream
func RecordAudioBytesSent(n int64) {
	audioBytesSent.Add(float64(n))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}
