package dependency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ErrServiceUnreachable wraps transport failures talking to the deps-service.
var ErrServiceUnreachable = errors.New("dependency service unreachable")

// RemoteExecutor posts commands to a deps-service (POST /api/v1/execute).
// File arguments must be paths visible to the service (shared volume).
type RemoteExecutor struct {
	config     ExecutorConfig
	httpClient *http.Client
	logger     *slog.Logger
}

func NewRemoteExecutor(config ExecutorConfig, logger *slog.Logger) *RemoteExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteExecutor{
		config: config,
		// HTTP timeout slightly larger than the command timeout
		httpClient: &http.Client{Timeout: config.DefaultTimeout + 10*time.Second},
		logger:     logger,
	}
}

func (e *RemoteExecutor) ExecuteCommand(ctx context.Context, req CommandRequest) (CommandResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return CommandResponse{}, fmt.Errorf("failed to serialize request: %w", err)
	}

	url := e.config.ServiceURL + "/api/v1/execute"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return CommandResponse{}, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	e.logger.Debug("sending command to dependency service", "url", url, "command", req.Command)

	start := time.Now()
	httpResp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return CommandResponse{}, fmt.Errorf("%w: %w", ErrServiceUnreachable, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return CommandResponse{}, fmt.Errorf("%w: reading response: %w", ErrServiceUnreachable, err)
	}

	var resp CommandResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		e.logger.Warn("failed to parse dependency service response",
			"status", httpResp.StatusCode,
			"body", string(raw),
			"error", err,
		)
		return CommandResponse{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return resp, fmt.Errorf("dependency service returned error (HTTP %d): %s", httpResp.StatusCode, resp.Stderr)
	}
	if resp.DurationMs == 0 {
		resp.DurationMs = time.Since(start).Milliseconds()
	}
	return resp, nil
}

// HealthCheck calls GET /api/v1/health.
func (e *RemoteExecutor) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.ServiceURL+"/api/v1/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrServiceUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("dependency service unhealthy (HTTP %d)", resp.StatusCode)
	}
	return nil
}
