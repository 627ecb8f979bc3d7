// Package metrics provides Prometheus metrics for monitoring vtscribe components.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// External tool execution metrics (yt-dlp, ffmpeg, ffprobe)
var (
	// commandExecutionTotal records the total number of external tool executions.
	// Labels:
	//   - command: Command name (e.g., "ffmpeg", "yt-dlp")
	//   - status: Execution status ("success", "failed", "timeout")
	commandExecutionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dependency_command_executions_total",
			Help: "Total number of external tool executions",
		},
		[]string{"command", "status"},
	)

	// commandExecutionDuration records the duration of external tool executions.
	// Buckets: 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s, 300s, 1800s
	commandExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dependency_command_duration_seconds",
			Help:    "Duration of external tool executions in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 1800},
		},
		[]string{"command"},
	)
)

func init() {
	prometheus.MustRegister(commandExecutionTotal)
	prometheus.MustRegister(commandExecutionDuration)
}

// RecordCommandExecution records an external tool execution event.
// Parameters:
//   - command: Command name (e.g., "ffmpeg", "yt-dlp")
//   - status: Execution status ("success", "failed", "timeout")
func RecordCommandExecution(command, status string) {
	commandExecutionTotal.WithLabelValues(command, status).Inc()
}

// RecordCommandDuration records the duration of an external tool execution.
func RecordCommandDuration(command string, durationSeconds float64) {
	commandExecutionDuration.WithLabelValues(command).Observe(durationSeconds)
}
