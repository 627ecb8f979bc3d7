package dependency

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/houzhh15/vtscribe/pkg/metrics"
)

// LocalExecutor executes tools directly on the local system.
type LocalExecutor struct {
	config ExecutorConfig
}

// NewLocalExecutor creates a new LocalExecutor with the given configuration.
func NewLocalExecutor(config ExecutorConfig) *LocalExecutor {
	return &LocalExecutor{config: config}
}

// ExecuteCommand runs the command in its own process group so that a timeout
// or cancellation kills the whole tree (yt-dlp spawns ffmpeg children).
func (e *LocalExecutor) ExecuteCommand(ctx context.Context, req CommandRequest) (CommandResponse, error) {
	binaryPath, err := e.resolveBinaryPath(req.Command)
	if err != nil {
		metrics.RecordCommandExecution(req.Command, "failed")
		return CommandResponse{ExitCode: -1}, fmt.Errorf("failed to resolve binary path for %s: %w", req.Command, err)
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = e.config.DefaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, binaryPath, req.Args...)
	cmd.Env = append(os.Environ(), e.buildEnvSlice(req.Env)...)
	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	duration := time.Since(start)
	metrics.RecordCommandDuration(req.Command, duration.Seconds())

	resp := CommandResponse{
		Success:  err == nil,
		ExitCode: e.getExitCode(err),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		metrics.RecordCommandExecution(req.Command, "timeout")
		return resp, fmt.Errorf("command execution timeout (%v): %s: %w", timeout, req.Command, ctx.Err())
	case ctx.Err() != nil:
		metrics.RecordCommandExecution(req.Command, "cancelled")
		return resp, fmt.Errorf("command cancelled: %s: %w", req.Command, ctx.Err())
	case err != nil:
		metrics.RecordCommandExecution(req.Command, "failed")
		return resp, err
	}
	metrics.RecordCommandExecution(req.Command, "success")
	return resp, nil
}

// HealthCheck verifies that every configured tool can be resolved.
func (e *LocalExecutor) HealthCheck(ctx context.Context) error {
	for _, tool := range []string{ToolFFmpeg, ToolFFprobe, ToolYtDlp} {
		if _, err := e.resolveBinaryPath(tool); err != nil {
			return fmt.Errorf("local command %s not available: %w", tool, err)
		}
	}
	return nil
}

// resolveBinaryPath resolves the binary from config, then PATH.
func (e *LocalExecutor) resolveBinaryPath(command string) (string, error) {
	if path, ok := e.config.LocalBinaryPaths[command]; ok && path != "" {
		return exec.LookPath(path)
	}
	return exec.LookPath(command)
}

func (e *LocalExecutor) buildEnvSlice(envMap map[string]string) []string {
	var result []string
	for k, v := range envMap {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	return result
}

func (e *LocalExecutor) getExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
