// Package dependency runs the external audio tooling the pipeline needs
// (ffmpeg for input conversion and silence detection) either on the local
// host or through a remote deps-service, with automatic fallback.
package dependency

import "time"

// ExecutionMode specifies where commands run.
type ExecutionMode string

const (
	// ModeLocal runs commands with exec.CommandContext on this host.
	ModeLocal ExecutionMode = "local"

	// ModeRemote posts commands to a deps-service over HTTP.
	ModeRemote ExecutionMode = "remote"

	// ModeFallback tries remote first and switches to local on network errors.
	ModeFallback ExecutionMode = "fallback"
)

// CommandRequest is one external command invocation.
type CommandRequest struct {
	Command    string            `json:"command" yaml:"command"`
	Args       []string          `json:"args" yaml:"args"`
	Env        map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	WorkingDir string            `json:"working_dir,omitempty" yaml:"working_dir,omitempty"`

	// Timeout 0 means ExecutorConfig.DefaultTimeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// CommandResponse is the captured result of a command.
type CommandResponse struct {
	Success    bool   `json:"success"`
	ExitCode   int    `json:"exit_code"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	DurationMs int64  `json:"duration_ms"`
}

// ExecutorConfig configures command execution.
type ExecutorConfig struct {
	Mode ExecutionMode `json:"mode" yaml:"mode"`

	// ServiceURL is the deps-service base URL, required for remote and fallback.
	ServiceURL string `json:"service_url" yaml:"service_url"`

	// ScratchRoot bounds every working directory passed to a command.
	// Empty disables the check.
	ScratchRoot string `json:"scratch_root" yaml:"scratch_root"`

	// LocalBinaryPaths maps command names to binaries, e.g. {"ffmpeg": "/usr/bin/ffmpeg"}.
	LocalBinaryPaths map[string]string `json:"local_binary_paths" yaml:"local_binary_paths"`

	DefaultTimeout time.Duration `json:"default_timeout" yaml:"default_timeout"`

	// AllowedCommands is a whitelist; empty allows all.
	AllowedCommands []string `json:"allowed_commands" yaml:"allowed_commands"`
}

// DefaultExecutorConfig runs ffmpeg from PATH with a 10 minute timeout.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		Mode:            ModeLocal,
		DefaultTimeout:  10 * time.Minute,
		AllowedCommands: []string{"ffmpeg"},
	}
}
