// Package health provides periodic liveness probing of transcription backends.
// It implements health probes with configurable intervals and failure thresholds;
// the router consults the result before sending work to a backend.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/whisper"
	"github.com/houzhh15/vtscribe/pkg/logger"
	"github.com/houzhh15/vtscribe/pkg/metrics"
)

const (
	probeTimeout    = 10 * time.Second // bounds a single HealthCheck call
	defaultInterval = 5 * time.Minute
)

// ServiceStatus is the last known probe outcome of one backend, as served by
// the whisper health endpoint.
type ServiceStatus struct {
	Backend          string    `json:"backend"`
	IsHealthy        bool      `json:"is_healthy"`
	LastCheckTime    time.Time `json:"last_check_time"`
	ConsecutiveFails int       `json:"consecutive_fails"` // reset by a passing probe
	ErrorMessage     string    `json:"error_message"`
}

// HealthChecker probes a backend on a fixed interval. A backend is reported
// unhealthy only after failThreshold consecutive failed probes; one passing
// probe restores it.
type HealthChecker struct {
	transcriber   whisper.WhisperTranscriber
	checkInterval time.Duration
	failThreshold int

	mu     sync.RWMutex
	status ServiceStatus

	stopChan chan struct{}
	stopOnce sync.Once
	logger   *slog.Logger
}

// NewHealthChecker creates a checker for transcriber. It starts out healthy
// and does nothing until Start is called. A non-positive interval defaults
// to five minutes and a non-positive threshold to 1.
func NewHealthChecker(transcriber whisper.WhisperTranscriber, checkInterval time.Duration, failThreshold int, log *slog.Logger) *HealthChecker {
	if failThreshold <= 0 {
		failThreshold = 1
	}
	if checkInterval <= 0 {
		checkInterval = defaultInterval
	}
	metrics.SetBackendHealthy(transcriber.Name(), true)
	return &HealthChecker{
		transcriber:   transcriber,
		checkInterval: checkInterval,
		failThreshold: failThreshold,
		stopChan:      make(chan struct{}),
		logger:        logger.OrDiscard(log).With("component", "health", "backend", transcriber.Name()),
		status: ServiceStatus{
			Backend:       transcriber.Name(),
			IsHealthy:     true, // Start optimistic
			LastCheckTime: time.Now(),
		},
	}
}

// Start performs an immediate check, then checks at regular intervals until
// Stop is called or ctx is cancelled. It blocks; run it in a goroutine.
func (hc *HealthChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(hc.checkInterval)
	defer ticker.Stop()

	hc.Check(ctx)

	for {
		select {
		case <-ticker.C:
			hc.Check(ctx)
		case <-hc.stopChan:
			hc.logger.Info("health checker stopped")
			return
		case <-ctx.Done():
			hc.logger.Info("health checker context cancelled")
			return
		}
	}
}

// Check executes a single health check, updates the status and returns it.
func (hc *HealthChecker) Check(ctx context.Context) ServiceStatus {
	checkCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	isHealthy, err := hc.transcriber.HealthCheck(checkCtx)

	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.status.LastCheckTime = time.Now()

	if isHealthy && err == nil {
		if !hc.status.IsHealthy {
			hc.logger.Info("backend recovered")
		}
		hc.status.IsHealthy = true
		hc.status.ConsecutiveFails = 0
		hc.status.ErrorMessage = ""
	} else {
		hc.status.ConsecutiveFails++
		errMsg := "unknown error"
		if err != nil {
			errMsg = err.Error()
		}
		hc.status.ErrorMessage = fmt.Sprintf("health check failed: %s", errMsg)

		if hc.status.ConsecutiveFails >= hc.failThreshold {
			if hc.status.IsHealthy {
				hc.logger.Error("backend marked unhealthy", "consecutive_fails", hc.status.ConsecutiveFails, "error", errMsg)
			}
			hc.status.IsHealthy = false
		} else {
			hc.logger.Warn("health check failed",
				"consecutive_fails", hc.status.ConsecutiveFails, "threshold", hc.failThreshold, "error", errMsg)
		}
	}
	metrics.SetBackendHealthy(hc.status.Backend, hc.status.IsHealthy)
	return hc.status
}

// GetStatus returns a copy of the current health status.
func (hc *HealthChecker) GetStatus() ServiceStatus {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.status
}

// Name returns the monitored backend name.
func (hc *HealthChecker) Name() string {
	return hc.transcriber.Name()
}

// Stop gracefully terminates the health checking goroutine.
// It is safe to call Stop multiple times (subsequent calls are no-ops).
func (hc *HealthChecker) Stop() {
	hc.stopOnce.Do(func() { close(hc.stopChan) })
}
