package dependency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/houzhh15/scribeflow/pkg/metrics"
)

// FallbackExecutor starts in remote mode and drops to local the first time
// the deps-service is unreachable and local execution succeeds.
type FallbackExecutor struct {
	remote *RemoteExecutor
	local  *LocalExecutor
	logger *slog.Logger

	mu   sync.RWMutex
	mode ExecutionMode
}

func NewFallbackExecutor(config ExecutorConfig, logger *slog.Logger) *FallbackExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackExecutor{
		remote: NewRemoteExecutor(config, logger),
		local:  NewLocalExecutor(config),
		logger: logger,
		mode:   ModeRemote,
	}
}

// Mode returns the currently active mode.
func (e *FallbackExecutor) Mode() ExecutionMode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode
}

func (e *FallbackExecutor) setMode(mode ExecutionMode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mode = mode
}

func (e *FallbackExecutor) ExecuteCommand(ctx context.Context, req CommandRequest) (CommandResponse, error) {
	if e.Mode() == ModeLocal {
		resp, err := e.local.ExecuteCommand(ctx, req)
		metrics.RecordCommandExecution(req.Command, string(ModeLocal), executionStatus(resp, err))
		return resp, err
	}

	resp, err := e.remote.ExecuteCommand(ctx, req)
	metrics.RecordCommandExecution(req.Command, string(ModeRemote), executionStatus(resp, err))
	if err == nil || !errors.Is(err, ErrServiceUnreachable) {
		return resp, err
	}

	e.logger.Warn("remote execution failed, attempting local fallback",
		"command", req.Command,
		"error", err,
	)
	resp, err = e.local.ExecuteCommand(ctx, req)
	metrics.RecordCommandExecution(req.Command, string(ModeLocal), executionStatus(resp, err))
	if err == nil && resp.Success {
		e.setMode(ModeLocal)
		metrics.RecordDegradationEvent(string(ModeRemote), string(ModeLocal))
		e.logger.Info("local fallback succeeded, switched to local mode", "command", req.Command)
	}
	return resp, err
}

// HealthCheck prefers remote; when it is down and local tools exist the
// executor switches to local mode.
func (e *FallbackExecutor) HealthCheck(ctx context.Context) error {
	remoteErr := e.remote.HealthCheck(ctx)
	if remoteErr == nil {
		e.setMode(ModeRemote)
		return nil
	}
	e.logger.Warn("remote dependency service unavailable, trying local", "error", remoteErr)

	if localErr := e.local.HealthCheck(ctx); localErr != nil {
		return fmt.Errorf("both remote and local dependencies unavailable: %w", errors.Join(remoteErr, localErr))
	}
	e.setMode(ModeLocal)
	return nil
}

func executionStatus(resp CommandResponse, err error) string {
	switch {
	case err == nil && resp.Success:
		return "success"
	case errors.Is(err, ErrCommandTimeout):
		return "timeout"
	default:
		return "failed"
	}
}
