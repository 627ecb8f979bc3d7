package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/houzhh15/vtscribe/cmd/server/internal/config"
	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator"
	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/chunking"
	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/dependency"
	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/health"
	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/quota"
	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/retry"
	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/router"
	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/whisper"
	"github.com/houzhh15/vtscribe/pkg/logger"
)

// app 持有一次进程生命周期内共享的组件
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	guard    *quota.Guard
	media    *dependency.DependencyClient
	cloud    *whisper.HTTPTranscriber
	local    *whisper.HTTPTranscriber
	checkers []*health.HealthChecker
	orch     *orchestrator.Orchestrator
}

// loadSettings 加载并校验配置，初始化全局日志
func loadSettings() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, nil, err
	}
	log, err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Environment: cfg.Server.Env,
		WithSource:  !cfg.IsProduction(),
		File:        cfg.Log.File,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAgeDays:  cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("logger init failed: %w", err)
	}
	return cfg, log, nil
}

// newQuotaGuard 按配置选择文件或内存存储
func newQuotaGuard(cfg *config.Config, log *slog.Logger) *quota.Guard {
	var store quota.Store = quota.NewMemoryStore()
	if cfg.Data.QuotaStore == "file" {
		store = quota.NewFileStore(cfg.Data.QuotaFile)
	}
	limits := quota.Limits{
		MinuteRequests:   cfg.Quota.MinuteRequests,
		HourAudioSeconds: cfg.Quota.HourAudioSeconds,
		DayRequests:      cfg.Quota.DayRequests,
		DayAudioSeconds:  cfg.Quota.DayAudioSeconds,
	}
	return quota.NewGuard(store, limits, quota.WithLogger(log))
}

// newApp 组装转写流水线：配额 -> 后端 -> 媒体工具 -> 重试 -> 路由 -> 编排
func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: log, guard: newQuotaGuard(cfg, log)}

	var cloud, local whisper.WhisperTranscriber
	if cfg.CloudEnabled() {
		a.cloud = whisper.NewCloudTranscriber(cfg.Cloud.BaseURL, cfg.Cloud.APIKey, cfg.Cloud.Model, cfg.Cloud.Timeout, log)
		cloud = a.cloud
	}
	if cfg.Local.BaseURL != "" {
		a.local = whisper.NewLocalTranscriber(cfg.Local.BaseURL, cfg.Local.Model, cfg.Local.Timeout, log)
		local = a.local
	}

	clientOpts := []dependency.ClientOption{dependency.WithLogger(log)}
	if cfg.AWS.Region != "" {
		fetcher, err := dependency.NewS3Fetcher(ctx, cfg.AWS.Region)
		if err != nil {
			return nil, fmt.Errorf("init s3 fetcher: %w", err)
		}
		clientOpts = append(clientOpts, dependency.WithObjectFetcher(fetcher))
	}
	a.media = dependency.NewClient(dependency.ExecutorConfig{
		WorkDir: cfg.Data.WorkDir,
		LocalBinaryPaths: map[string]string{
			dependency.ToolFFmpeg:  cfg.Tools.FFmpegPath,
			dependency.ToolFFprobe: cfg.Tools.FFprobePath,
			dependency.ToolYtDlp:   cfg.Tools.YtDlpPath,
		},
		DefaultTimeout:  cfg.Tools.CommandTimeout,
		AllowedCommands: []string{dependency.ToolFFmpeg, dependency.ToolFFprobe, dependency.ToolYtDlp},
	}, clientOpts...)

	routerOpts := []router.Option{router.WithLogger(log)}
	for _, b := range a.backends() {
		hc := health.NewHealthChecker(b, cfg.Health.Interval, cfg.Health.FailThreshold, log)
		a.checkers = append(a.checkers, hc)
		routerOpts = append(routerOpts, router.WithHealthChecker(hc))
	}
	rt := router.New(local, cloud, a.guard, routerOpts...)

	dispatcher := retry.NewDispatcher(retry.Policy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		Backoff:        cfg.Retry.Backoff,
		ResplitSeconds: cfg.Retry.ResplitSeconds,
	}, chunking.NewSplitter(a.media, log), retry.WithLogger(log))

	a.orch = orchestrator.New(orchestrator.Config{
		WorkDir:             cfg.Data.WorkDir,
		MaxConcurrentJobs:   cfg.Server.MaxConcurrentJobs,
		MaxParallelChunks:   cfg.Chunking.MaxParallel,
		SimilarityThreshold: cfg.Merge.SimilarityThreshold,
		Chunking: orchestrator.ChunkingOptions{
			Enabled:        cfg.Chunking.Enabled,
			ChunkSeconds:   cfg.Chunking.ChunkSeconds,
			OverlapSeconds: cfg.Chunking.OverlapSeconds,
			Accelerated:    cfg.Chunking.Accelerated,
		},
	}, a.media, rt, dispatcher,
		orchestrator.WithQuotaChecker(a.guard),
		orchestrator.WithLogger(log),
	)
	return a, nil
}

// backends 返回已配置的后端（local 优先）
func (a *app) backends() []whisper.WhisperTranscriber {
	var out []whisper.WhisperTranscriber
	if a.local != nil {
		out = append(out, a.local)
	}
	if a.cloud != nil {
		out = append(out, a.cloud)
	}
	return out
}

// startHealthCheckers 在后台运行各后端的周期性健康检查，ctx 结束时退出
func (a *app) startHealthCheckers(ctx context.Context) {
	for _, hc := range a.checkers {
		go hc.Start(ctx)
	}
}

func (a *app) stopHealthCheckers() {
	for _, hc := range a.checkers {
		hc.Stop()
	}
}

// environmentOptions 环境检查的输入
func (a *app) environmentOptions() orchestrator.EnvironmentOptions {
	return orchestrator.EnvironmentOptions{
		WorkDir: a.cfg.Data.WorkDir,
		ToolPaths: map[string]string{
			dependency.ToolFFmpeg:  a.cfg.Tools.FFmpegPath,
			dependency.ToolFFprobe: a.cfg.Tools.FFprobePath,
			dependency.ToolYtDlp:   a.cfg.Tools.YtDlpPath,
		},
		CloudAPIKey: a.cfg.Cloud.APIKey,
		Backends:    a.backends(),
	}
}

func (a *app) cloudDefaultModel() string {
	if a.cloud != nil {
		return a.cloud.DefaultModel()
	}
	return a.cfg.Cloud.Model
}

func (a *app) localDefaultModel() string {
	if a.local != nil {
		return a.local.DefaultModel()
	}
	return a.cfg.Local.Model
}
