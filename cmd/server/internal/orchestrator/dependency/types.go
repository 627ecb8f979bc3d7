// Package dependency wraps the external media tools the orchestrator relies on
// (yt-dlp, ffmpeg, ffprobe) and the object-store fetcher used for s3:// sources.
package dependency

import "time"

// Tool names understood by the executor and the command whitelist.
const (
	ToolFFmpeg  = "ffmpeg"
	ToolFFprobe = "ffprobe"
	ToolYtDlp   = "yt-dlp"
)

// CommandRequest encapsulates all information needed to execute a command.
type CommandRequest struct {
	// Command is the tool name (e.g., "ffmpeg", "yt-dlp").
	Command string `json:"command" yaml:"command"`

	// Args are the command-line arguments.
	Args []string `json:"args" yaml:"args"`

	// Env contains extra environment variables.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// WorkingDir is the directory to execute the command in (default: current dir).
	WorkingDir string `json:"working_dir,omitempty" yaml:"working_dir,omitempty"`

	// Timeout is the maximum execution duration (0 means the executor default).
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// CommandResponse contains the result of a command execution.
type CommandResponse struct {
	Success  bool          `json:"success" yaml:"success"`
	ExitCode int           `json:"exit_code" yaml:"exit_code"`
	Stdout   string        `json:"stdout" yaml:"stdout"`
	Stderr   string        `json:"stderr" yaml:"stderr"`
	Duration time.Duration `json:"duration_ms" yaml:"duration_ms"`
}

// ExecutorConfig defines how external tools are located and constrained.
type ExecutorConfig struct {
	// WorkDir is the root of all per-job directories. Working directories
	// passed to commands must live under it.
	WorkDir string `json:"work_dir" yaml:"work_dir"`

	// LocalBinaryPaths maps tool names to binaries
	// (e.g., {"ffmpeg": "/usr/local/bin/ffmpeg"}). Unmapped tools are looked up in PATH.
	LocalBinaryPaths map[string]string `json:"local_binary_paths" yaml:"local_binary_paths"`

	// DefaultTimeout is the execution timeout for commands that do not set one.
	DefaultTimeout time.Duration `json:"default_timeout" yaml:"default_timeout"`

	// AllowedCommands lists the tools permitted to execute. Empty list means allow all.
	AllowedCommands []string `json:"allowed_commands" yaml:"allowed_commands"`
}
