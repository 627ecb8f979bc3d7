package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/houzhh15/vtscribe/cmd/server/internal/api"
	"github.com/houzhh15/vtscribe/cmd/server/internal/handlers"
	"github.com/houzhh15/vtscribe/cmd/server/internal/middleware"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 转写服务",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, appLogger, err := loadSettings()
	if err != nil {
		return err
	}
	appLogger.Info("configuration loaded", "env", cfg.Server.Env, "port", cfg.Server.Port)
	if cfg.IsDevelopment() {
		appLogger.Debug(cfg.PrintConfig())
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	a, err := newApp(ctx, cfg, appLogger)
	if err != nil {
		return err
	}
	a.startHealthCheckers(ctx)
	defer a.stopHealthCheckers()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	setupRoutes(r, a, time.Now())

	srv := &http.Server{
		Addr:              cfg.GetServerAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		appLogger.Info("server starting", "addr", srv.Addr, "env", cfg.Server.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// 等待中断信号以优雅关闭服务
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	select {
	case err := <-serverErr:
		appLogger.Error("server failed", "error", err)
		return err
	case <-quit:
	}
	appLogger.Info("shutdown signal received, shutting down server...")

	// 转写请求可能持续数分钟，给在途请求留出时间
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("server forced to shutdown", "error", err)
		return err
	}
	appLogger.Info("server shutdown complete")
	return nil
}

// setupRoutes 注册全部路由
func setupRoutes(r *gin.Engine, a *app, startTime time.Time) {
	r.GET("/healthz", healthCheckHandler(a.cfg, startTime))
	r.GET("/readyz", readinessCheckHandler(a))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	envHandler := handlers.NewEnvironmentHandler(a.environmentOptions())
	status := r.Group("/api/v1")
	status.GET("/environment/status", gin.WrapF(envHandler.GetStatus))
	status.GET("/services/whisper/health", api.HandleWhisperHealthCheck(a.checkers))
	status.GET("/services/whisper/models", api.HandleGetWhisperModels(a.cloudDefaultModel(), a.localDefaultModel()))
	status.GET("/quota", api.HandleQuotaStatus(a.guard))

	v1 := r.Group("/v1")
	v1.Use(middleware.APIKeyAuth(a.cfg.Server.APIKey))
	v1.POST("/transcripts", api.HandleCreateTranscript(a.orch, a.cfg.Data.MediaRoot, a.logger))
}
