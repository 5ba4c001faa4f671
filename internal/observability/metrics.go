package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TTS metrics
	ttsFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "granny_tts_frames_total",
		Help: "Total audio frames emitted, by producing provider",
	}, []string{"provider"})

	ttsStreams = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "granny_tts_streams_total",
		Help: "Total TTS streams completed, by provider and status",
	}, []string{"provider", "status"})

	ttsFailovers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "granny_tts_failovers_total",
		Help: "Total primary-to-fallback TTS switches",
	})

	ttsAudioBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "granny_tts_audio_bytes_total",
		Help: "Total synthesized audio bytes, by provider",
	}, []string{"provider"})

	// STT metrics
	sttRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "granny_stt_requests_total",
		Help: "Total STT requests",
	}, []string{"status"})

	// LLM metrics
	llmRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "granny_llm_requests_total",
		Help: "Total LLM requests",
	}, []string{"status"})

	llmLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "granny_llm_latency_seconds",
		Help:    "LLM completion latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "granny_active_sessions",
		Help: "Number of active agent sessions",
	})

	sessionEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "granny_session_events_total",
		Help: "Total session lifecycle events emitted",
	}, []string{"event"})

	// Token server metrics
	tokensIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "granny_tokens_issued_total",
		Help: "Total access tokens issued",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "granny_errors_total",
		Help: "Total errors by component",
	}, []string{"component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "granny_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "granny_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// RecordTTSFrame records one emitted audio frame for a provider
func RecordTTSFrame(provider string, bytes int) {
	ttsFrames.WithLabelValues(provider).Inc()
	ttsAudioBytes.WithLabelValues(provider).Add(float64(bytes))
}

// RecordTTSStream records a completed TTS stream
func RecordTTSStream(provider, status string) {
	ttsStreams.WithLabelValues(provider, status).Inc()
}

// RecordTTSFailover records one primary-to-fallback switch
func RecordTTSFailover() {
	ttsFailovers.Inc()
}

// RecordSTTRequest records an STT request outcome
func RecordSTTRequest(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	sttRequests.WithLabelValues(status).Inc()
}

// RecordLLMRequest records an LLM request outcome and latency
func RecordLLMRequest(success bool, seconds float64) {
	status := "success"
	if !success {
		status = "error"
	}
	llmRequests.WithLabelValues(status).Inc()
	llmLatency.Observe(seconds)
}

// RecordSessionStart increments the active session gauge
func RecordSessionStart() {
	activeSessions.Inc()
}

// RecordSessionEnd decrements the active session gauge
func RecordSessionEnd() {
	activeSessions.Dec()
}

// RecordSessionEvent counts one emitted lifecycle event
func RecordSessionEvent(event string) {
	sessionEvents.WithLabelValues(event).Inc()
}

// RecordTokenIssued counts one issued access token
func RecordTokenIssued() {
	tokensIssued.Inc()
}

// RecordError records an error for a component
func RecordError(component string) {
	errorsTotal.WithLabelValues(component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
