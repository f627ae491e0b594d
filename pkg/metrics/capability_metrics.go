// Package metrics provides Prometheus metrics for remote capability calls
// (transcription, diarization, alignment, punctuation, denormalization) and
// the external commands the pipeline shells out to.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Capability call metrics
var (
	// capabilityCallsTotal records the total number of capability invocations.
	// Labels:
	//   - capability: e.g. "transcribe", "diarize", "align"
	//   - status: "success", "failed", "timeout", "rate_limited", "rejected"
	capabilityCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scribeflow_capability_calls_total",
			Help: "Total number of remote capability calls by outcome",
		},
		[]string{"capability", "status"},
	)

	// capabilityCallDuration records the wall time of a capability call,
	// including retries and backoff sleeps.
	// Buckets: 0.1s .. 600s; GPU-bound segments can take minutes.
	capabilityCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scribeflow_capability_call_duration_seconds",
			Help:    "Duration of remote capability calls in seconds, retries included",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 600},
		},
		[]string{"capability"},
	)

	// capabilityRetriesTotal records retry attempts.
	// Labels:
	//   - capability
	//   - reason: "timeout", "server_error", "rate_limited", "network"
	capabilityRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scribeflow_capability_retries_total",
			Help: "Total number of capability call retries by reason",
		},
		[]string{"capability", "reason"},
	)

	// commandExecutionTotal records external command executions (ffmpeg).
	// Labels:
	//   - command: e.g. "ffmpeg"
	//   - mode: "local" or "remote"
	//   - status: "success", "failed"
	commandExecutionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scribeflow_command_executions_total",
			Help: "Total number of external command executions",
		},
		[]string{"command", "mode", "status"},
	)

	// degradationEventsTotal records transcriber switches (primary <-> fallback).
	degradationEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scribeflow_degradation_events_total",
			Help: "Total number of transcriber degradation/recovery switches",
		},
		[]string{"from", "to"},
	)
)

func init() {
	prometheus.MustRegister(capabilityCallsTotal)
	prometheus.MustRegister(capabilityCallDuration)
	prometheus.MustRegister(capabilityRetriesTotal)
	prometheus.MustRegister(commandExecutionTotal)
	prometheus.MustRegister(degradationEventsTotal)
}

// RecordCapabilityCall records the final outcome of one capability call.
func RecordCapabilityCall(capability, status string) {
	capabilityCallsTotal.WithLabelValues(capability, status).Inc()
}

// RecordCapabilityDuration records the duration of a capability call.
func RecordCapabilityDuration(capability string, durationSeconds float64) {
	capabilityCallDuration.WithLabelValues(capability).Observe(durationSeconds)
}

// RecordRetry records one retry attempt.
func RecordRetry(capability, reason string) {
	capabilityRetriesTotal.WithLabelValues(capability, reason).Inc()
}

// RecordCommandExecution records an external command execution.
func RecordCommandExecution(command, mode, status string) {
	commandExecutionTotal.WithLabelValues(command, mode, status).Inc()
}

// RecordDegradationEvent records a switch between transcriber implementations.
func RecordDegradationEvent(from, to string) {
	degradationEventsTotal.WithLabelValues(from, to).Inc()
}
