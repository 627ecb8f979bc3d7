package main

import (
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/vtscribe/cmd/server/internal/config"
)

// HealthCheckResponse represents the health check response
type HealthCheckResponse struct {
	Status    string    `json:"status"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
	Timestamp time.Time `json:"timestamp"`
	Env       string    `json:"env"`
}

// ReadinessCheckResponse represents the readiness check response
type ReadinessCheckResponse struct {
	Ready     bool             `json:"ready"`
	Checks    []ReadinessCheck `json:"checks"`
	Timestamp time.Time        `json:"timestamp"`
}

// ReadinessCheck represents a single readiness check
type ReadinessCheck struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "ok" or "fail"
	Error  string `json:"error,omitempty"`
}

// healthCheckHandler returns the liveness probe handler
func healthCheckHandler(cfg *config.Config, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthCheckResponse{
			Status:    "healthy",
			Service:   "vtscribe",
			Version:   version,
			Uptime:    time.Since(startTime).String(),
			Timestamp: time.Now(),
			Env:       cfg.Server.Env,
		})
	}
}

// readinessCheckHandler returns the readiness probe handler.
// Ready means the work dir exists, the quota store is readable and at least
// one backend is currently healthy.
func readinessCheckHandler(a *app) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := []ReadinessCheck{}
		allReady := true
		add := func(name string, err string) {
			check := ReadinessCheck{Name: name, Status: "ok"}
			if err != "" {
				check.Status = "fail"
				check.Error = err
				allReady = false
			}
			checks = append(checks, check)
		}

		workDirErr := ""
		if err := os.MkdirAll(a.cfg.Data.WorkDir, 0o755); err != nil || !checkDataDirAccessible(a.cfg.Data.WorkDir) {
			workDirErr = "work directory not accessible"
		}
		add("work_dir", workDirErr)

		quotaErr := ""
		if _, err := a.guard.Snapshot(c.Request.Context()); err != nil {
			quotaErr = err.Error()
		}
		add("quota_store", quotaErr)

		backendErr := "no healthy transcription backend"
		for _, hc := range a.checkers {
			if hc.GetStatus().IsHealthy {
				backendErr = ""
				break
			}
		}
		add("backends", backendErr)

		httpStatus := http.StatusOK
		if !allReady {
			httpStatus = http.StatusServiceUnavailable
		}
		c.JSON(httpStatus, ReadinessCheckResponse{
			Ready:     allReady,
			Checks:    checks,
			Timestamp: time.Now(),
		})
	}
}

// checkDataDirAccessible checks if a directory is accessible
func checkDataDirAccessible(dir string) bool {
	info, err := os.Stat(dir)
	if err != nil {
		return false
	}
	return info.IsDir()
}
