package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsTotal 转写任务总数计数器
	// Labels: status (success/error), error_code (""/QUOTA_EXCEEDED/ALL_BACKENDS_FAILED/...)
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vtscribe_jobs_total",
			Help: "Total number of transcription jobs by outcome and error code",
		},
		[]string{"status", "error_code"},
	)

	// ChunksTotal 切片转写总数计数器
	// Labels: backend (cloud/local), status (success/error)
	ChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vtscribe_chunks_total",
			Help: "Total number of audio chunks dispatched by backend",
		},
		[]string{"backend", "status"},
	)

	// ActiveJobs 正在处理的任务数
	ActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vtscribe_active_jobs",
			Help: "Number of transcription jobs currently holding a job slot",
		},
	)

	// EnvironmentReady 环境就绪状态量规（0=未就绪，1=就绪）
	EnvironmentReady = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vtscribe_environment_ready",
			Help: "Environment readiness status (0=not ready, 1=ready)",
		},
	)

	// JobDuration 任务耗时直方图（秒），从下载开始到合并完成
	// Buckets: 1s .. 2h
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vtscribe_job_duration_seconds",
			Help:    "End-to-end transcription job duration in seconds by status",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600, 7200},
		},
		[]string{"status"},
	)
)

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordJob 记录任务结束；errorCode 在成功时为空
func RecordJob(errorCode string, durationSeconds float64) {
	status := statusLabel(errorCode == "")
	JobsTotal.WithLabelValues(status, errorCode).Inc()
	JobDuration.WithLabelValues(status).Observe(durationSeconds)
}

// RecordChunkProcessed 记录单个切片转写完成
func RecordChunkProcessed(backend string, success bool) {
	ChunksTotal.WithLabelValues(backend, statusLabel(success)).Inc()
}

// SetEnvironmentReady 设置环境就绪状态
func SetEnvironmentReady(ready bool) {
	if ready {
		EnvironmentReady.Set(1)
	} else {
		EnvironmentReady.Set(0)
	}
}
