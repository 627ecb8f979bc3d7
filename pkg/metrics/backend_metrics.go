package metrics

import "github.com/prometheus/client_golang/prometheus"

// Transcription backend metrics
var (
	// backendRequestsTotal counts backend transcription calls.
	// Labels:
	//   - backend: Backend name ("cloud", "local")
	//   - status: HTTP status code as string, or "error" for transport failures
	backendRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcription_backend_requests_total",
			Help: "Total number of transcription backend calls",
		},
		[]string{"backend", "status"},
	)

	backendRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transcription_backend_request_duration_seconds",
			Help:    "Duration of transcription backend calls in seconds",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 180, 600, 1800},
		},
		[]string{"backend"},
	)

	// retryEventsTotal counts chunk-level recovery actions.
	// Labels:
	//   - backend: Backend name
	//   - reason: "transient" (429/5xx retry) or "resplit" (413 re-split)
	retryEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcription_retry_events_total",
			Help: "Total number of chunk retries and emergency re-splits",
		},
		[]string{"backend", "reason"},
	)

	// fallbackEventsTotal counts router fallbacks from one backend to another.
	fallbackEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcription_fallback_events_total",
			Help: "Total number of backend fallbacks (e.g., cloud -> local)",
		},
		[]string{"from_backend", "to_backend"},
	)

	// backendHealthy reports the last health probe result per backend (1 healthy, 0 unhealthy).
	backendHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "transcription_backend_healthy",
			Help: "Last health probe result per backend (1 = healthy)",
		},
		[]string{"backend"},
	)
)

// Quota metrics
var (
	quotaWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quota_wait_seconds",
			Help:    "Time spent waiting for minute/hour quota windows to admit a request",
			Buckets: []float64{0, 0.1, 1, 5, 15, 30, 60, 300, 900, 3600},
		},
	)

	// quotaRejectionsTotal counts requests rejected by a hard ceiling.
	// Labels:
	//   - window: "day_requests", "day_audio_seconds", "hour_audio_seconds"
	quotaRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_rejections_total",
			Help: "Total number of requests rejected by a quota ceiling",
		},
		[]string{"window"},
	)
)

func init() {
	prometheus.MustRegister(backendRequestsTotal)
	prometheus.MustRegister(backendRequestDuration)
	prometheus.MustRegister(retryEventsTotal)
	prometheus.MustRegister(fallbackEventsTotal)
	prometheus.MustRegister(backendHealthy)
	prometheus.MustRegister(quotaWaitSeconds)
	prometheus.MustRegister(quotaRejectionsTotal)
}

// RecordBackendRequest records one backend call with its outcome and latency.
func RecordBackendRequest(backend, status string, durationSeconds float64) {
	backendRequestsTotal.WithLabelValues(backend, status).Inc()
	backendRequestDuration.WithLabelValues(backend).Observe(durationSeconds)
}

// RecordRetryEvent records a transient retry or an emergency re-split.
func RecordRetryEvent(backend, reason string) {
	retryEventsTotal.WithLabelValues(backend, reason).Inc()
}

// RecordFallbackEvent records a router fallback.
func RecordFallbackEvent(fromBackend, toBackend string) {
	fallbackEventsTotal.WithLabelValues(fromBackend, toBackend).Inc()
}

// SetBackendHealthy records the latest health probe result.
func SetBackendHealthy(backend string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	backendHealthy.WithLabelValues(backend).Set(v)
}

// ObserveQuotaWait records how long a reservation waited for admission.
func ObserveQuotaWait(seconds float64) {
	quotaWaitSeconds.Observe(seconds)
}

// RecordQuotaRejection records a hard-ceiling rejection.
func RecordQuotaRejection(window string) {
	quotaRejectionsTotal.WithLabelValues(window).Inc()
}
