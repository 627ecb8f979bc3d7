package orchestrator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/houzhh15/vtscribe/cmd/server/internal/metrics"
	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/dependency"
	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/whisper"
)

// EnvironmentStatus 表示整体环境状态
type EnvironmentStatus struct {
	Ready     bool               `json:"ready"`
	Issues    []string           `json:"issues"`
	Warnings  []string           `json:"warnings"`
	Details   EnvironmentDetails `json:"details"`
	CheckedAt time.Time          `json:"checked_at"`
}

// EnvironmentDetails 包含各组件的详细状态
type EnvironmentDetails struct {
	CloudAPIKey TokenStatus              `json:"cloud_api_key"`
	Backends    map[string]ServiceStatus `json:"backends"`
	Tools       map[string]ToolStatus    `json:"tools"`
	WorkDir     DirStatus                `json:"work_dir"`
}

// TokenStatus 表示云端 API Key 配置状态
type TokenStatus struct {
	Configured bool   `json:"configured"`
	Masked     string `json:"masked,omitempty"`
}

// ServiceStatus 表示转写后端状态
type ServiceStatus struct {
	Reachable bool   `json:"reachable"`
	Latency   string `json:"latency,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ToolStatus 表示命令行工具状态
type ToolStatus struct {
	Available bool   `json:"available"`
	Path      string `json:"path"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

// DirStatus 表示工作目录状态
type DirStatus struct {
	Path     string `json:"path"`
	Writable bool   `json:"writable"`
	Error    string `json:"error,omitempty"`
}

// EnvironmentOptions 描述需要检查的环境
type EnvironmentOptions struct {
	WorkDir     string
	ToolPaths   map[string]string // ffmpeg/ffprobe/yt-dlp -> 可执行文件路径
	CloudAPIKey string
	Backends    []whisper.WhisperTranscriber
}

// 工具是否必需：缺少 yt-dlp 只影响 URL 音源
var requiredTools = map[string]bool{
	dependency.ToolFFmpeg:  true,
	dependency.ToolFFprobe: true,
	dependency.ToolYtDlp:   false,
}

// versionFlags 各工具打印版本的参数
var versionFlags = map[string]string{
	dependency.ToolFFmpeg:  "-version",
	dependency.ToolFFprobe: "-version",
	dependency.ToolYtDlp:   "--version",
}

// CheckEnvironment 执行完整的环境检查
func CheckEnvironment(ctx context.Context, opts EnvironmentOptions) *EnvironmentStatus {
	status := &EnvironmentStatus{
		Ready:    true,
		Issues:   []string{},
		Warnings: []string{},
		Details: EnvironmentDetails{
			Backends: map[string]ServiceStatus{},
			Tools:    map[string]ToolStatus{},
		},
		CheckedAt: time.Now(),
	}
	defer func() { metrics.SetEnvironmentReady(status.Ready) }()

	// 1. 云端 API Key
	if opts.CloudAPIKey == "" {
		status.Warnings = append(status.Warnings, "GROQ_API_KEY 未配置，云端后端不可用")
	} else {
		status.Details.CloudAPIKey = TokenStatus{Configured: true, Masked: maskToken(opts.CloudAPIKey)}
	}

	// 2. 外部工具
	for _, tool := range []string{dependency.ToolFFmpeg, dependency.ToolFFprobe, dependency.ToolYtDlp} {
		bin := opts.ToolPaths[tool]
		if bin == "" {
			bin = tool
		}
		ts := checkTool(ctx, bin, versionFlags[tool])
		status.Details.Tools[tool] = ts
		if ts.Available {
			continue
		}
		if requiredTools[tool] {
			status.Ready = false
			status.Issues = append(status.Issues, fmt.Sprintf("%s 不可用: %s", tool, ts.Error))
		} else {
			status.Warnings = append(status.Warnings, fmt.Sprintf("%s 不可用，URL 音源无法下载: %s", tool, ts.Error))
		}
	}

	// 3. 转写后端：至少一个可达
	reachable := 0
	for _, b := range opts.Backends {
		svc := checkBackend(ctx, b)
		status.Details.Backends[b.Name()] = svc
		if svc.Reachable {
			reachable++
			continue
		}
		status.Warnings = append(status.Warnings, fmt.Sprintf("%s 后端不可达: %s", b.Name(), svc.Error))
	}
	if reachable == 0 {
		status.Ready = false
		status.Issues = append(status.Issues, "没有可用的转写后端")
	}

	// 4. 工作目录
	status.Details.WorkDir = checkWorkDir(opts.WorkDir)
	if !status.Details.WorkDir.Writable {
		status.Ready = false
		status.Issues = append(status.Issues, fmt.Sprintf("工作目录不可写: %s", status.Details.WorkDir.Error))
	}

	return status
}

// maskToken 遮蔽 Token 的中间部分
func maskToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// checkBackend 探测后端健康状态
func checkBackend(ctx context.Context, b whisper.WhisperTranscriber) ServiceStatus {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	ok, err := b.HealthCheck(probeCtx)
	latency := time.Since(start)

	if err != nil {
		return ServiceStatus{Reachable: false, Error: err.Error()}
	}
	if !ok {
		return ServiceStatus{Reachable: false, Error: "health check reported unhealthy"}
	}
	return ServiceStatus{Reachable: true, Latency: fmt.Sprintf("%dms", latency.Milliseconds())}
}

// checkTool 检查命令行工具可用性并解析版本号
func checkTool(ctx context.Context, bin, versionFlag string) ToolStatus {
	path, err := exec.LookPath(bin)
	if err != nil {
		return ToolStatus{Available: false, Path: bin, Error: err.Error()}
	}

	cmdCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	output, err := exec.CommandContext(cmdCtx, path, versionFlag).CombinedOutput()
	if err != nil {
		return ToolStatus{Available: false, Path: path, Error: err.Error()}
	}
	return ToolStatus{Available: true, Path: path, Version: parseVersion(string(output))}
}

// parseVersion 解析版本号："ffmpeg version 6.1 ..." -> "6.1"；yt-dlp 只输出版本号本身
func parseVersion(output string) string {
	first, _, _ := strings.Cut(strings.TrimSpace(output), "\n")
	parts := strings.Fields(first)
	switch {
	case len(parts) >= 3 && parts[1] == "version":
		return parts[2]
	case len(parts) == 1:
		return parts[0]
	}
	return "unknown"
}

// checkWorkDir 确认工作目录可创建、可写
func checkWorkDir(dir string) DirStatus {
	if dir == "" {
		dir = os.TempDir()
	}
	st := DirStatus{Path: dir}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		st.Error = err.Error()
		return st
	}
	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		st.Error = err.Error()
		return st
	}
	probe.Close()
	_ = os.Remove(filepath.Clean(probe.Name()))
	st.Writable = true
	return st
}
