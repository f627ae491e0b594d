package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Remote job states.
const (
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
	StatusInQueue    = "IN_QUEUE"
	StatusInProgress = "IN_PROGRESS"
	StatusCancelled  = "CANCELLED"
	StatusTimedOut   = "TIMED_OUT"
)

// WorkerConfig configures one serverless worker endpoint.
type WorkerConfig struct {
	Endpoint string `yaml:"endpoint"`
	// Path defaults to "/run".
	Path  string `yaml:"path"`
	Token string `yaml:"token"`
	// PollInterval is used when the worker answers IN_QUEUE/IN_PROGRESS.
	PollInterval time.Duration `yaml:"poll_interval"`
	// HTTPClient overrides the transport (tests).
	HTTPClient *http.Client `yaml:"-"`
}

// WorkerResponse is the worker's job envelope.
type WorkerResponse struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// WorkerClient posts {"input": ...} to a worker and decodes the output of
// the completed job.
type WorkerClient struct {
	endpoint     string
	path         string
	pollInterval time.Duration
	httpClient   *http.Client
}

// NewWorkerClient builds a client. A non-empty Token is sent as a Bearer
// token on every request.
func NewWorkerClient(cfg WorkerConfig) *WorkerClient {
	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{}
	}
	httpClient := base
	if cfg.Token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: cfg.Token,
			TokenType:   "Bearer",
		}))
	}
	path := cfg.Path
	if path == "" {
		path = "/run"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	return &WorkerClient{
		endpoint:     strings.TrimRight(cfg.Endpoint, "/"),
		path:         path,
		pollInterval: poll,
		httpClient:   httpClient,
	}
}

// Endpoint returns the worker base URL.
func (c *WorkerClient) Endpoint() string { return c.endpoint }

// Run submits input and decodes the job output into out.
func (c *WorkerClient) Run(ctx context.Context, input any, out any) error {
	body, err := json.Marshal(map[string]any{"input": input})
	if err != nil {
		return fmt.Errorf("%w: encoding input: %w", ErrNonRetryable, err)
	}

	resp, err := c.do(ctx, http.MethodPost, c.endpoint+c.path, body)
	if err != nil {
		return err
	}
	for resp.Status == StatusInQueue || resp.Status == StatusInProgress {
		if resp.ID == "" {
			return fmt.Errorf("%w: job in status %s without id", ErrMalformedResponse, resp.Status)
		}
		timer := time.NewTimer(c.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if resp, err = c.do(ctx, http.MethodGet, c.endpoint+"/status/"+resp.ID, nil); err != nil {
			return err
		}
	}

	switch resp.Status {
	case StatusCompleted:
		if out == nil {
			return nil
		}
		if len(resp.Output) == 0 || string(resp.Output) == "null" {
			return fmt.Errorf("%w: job %s completed without output", ErrMalformedResponse, resp.ID)
		}
		if err := json.Unmarshal(resp.Output, out); err != nil {
			return fmt.Errorf("%w: decoding output of job %s: %w", ErrMalformedResponse, resp.ID, err)
		}
		return nil
	case StatusFailed, StatusCancelled:
		msg := resp.Error
		if msg == "" {
			msg = strings.ToLower(resp.Status)
		}
		return &JobFailedError{JobID: resp.ID, Message: msg}
	case StatusTimedOut:
		return fmt.Errorf("job %s: %w", resp.ID, ErrJobTimedOut)
	default:
		return fmt.Errorf("%w: unknown job status %q", ErrMalformedResponse, resp.Status)
	}
}

func (c *WorkerClient) do(ctx context.Context, method, url string, body []byte) (*WorkerResponse, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", ErrNonRetryable, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling worker %s: %w", c.endpoint, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading worker response: %w", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, &RemoteError{
			StatusCode: httpResp.StatusCode,
			RetryAfter: parseRetryAfter(httpResp.Header.Get("Retry-After"), time.Now()),
			Body:       truncate(string(raw), 512),
		}
	}

	var resp WorkerResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return &resp, nil
}

// HealthCheck calls GET {endpoint}/health.
func (c *WorkerClient) HealthCheck(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/health", nil)
	if err != nil {
		return false, fmt.Errorf("failed to create health check request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}
	return true, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
