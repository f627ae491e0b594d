package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// WhisperConfig configures a go-whisper HTTP service.
type WhisperConfig struct {
	URL      string        `yaml:"url"`
	Model    string        `yaml:"model"`
	Language string        `yaml:"language"`
	Timeout  time.Duration `yaml:"timeout"`
}

// WhisperHTTPTranscriber calls the go-whisper REST API
// (POST {url}/api/whisper/transcribe, multipart/form-data).
type WhisperHTTPTranscriber struct {
	apiURL     string
	model      string
	language   string
	timeout    time.Duration
	policy     RetryPolicy
	httpClient *http.Client
	logger     *slog.Logger
}

var _ MonitoredTranscriber = (*WhisperHTTPTranscriber)(nil)

// NewWhisperHTTPTranscriber builds a transcriber; model defaults to
// "ggml-base" and timeout to 10 minutes.
func NewWhisperHTTPTranscriber(cfg WhisperConfig, policy RetryPolicy, logger *slog.Logger) *WhisperHTTPTranscriber {
	if cfg.Model == "" {
		cfg.Model = "ggml-base"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WhisperHTTPTranscriber{
		apiURL:     strings.TrimRight(cfg.URL, "/"),
		model:      cfg.Model,
		language:   cfg.Language,
		timeout:    cfg.Timeout,
		policy:     policy,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

type whisperSegment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type whisperResult struct {
	Segments []whisperSegment `json:"segments"`
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
}

func (w *WhisperHTTPTranscriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	policy := w.policy
	policy.OnRetry = func(attempt int, reason string, delay time.Duration, err error) {
		w.logger.Warn("go-whisper request failed, retrying",
			"attempt", attempt,
			"reason", reason,
			"delay_ms", delay.Milliseconds(),
			"error", err,
		)
	}
	res, err := InvokeWithRetry(ctx, policy, w.timeout, func(ctx context.Context) (*whisperResult, error) {
		return w.transcribeOnce(ctx, wav)
	})
	if err != nil {
		return "", fmt.Errorf("go-whisper transcription failed: %w", err)
	}

	if text := strings.TrimSpace(res.Text); text != "" {
		return text, nil
	}
	parts := make([]string, 0, len(res.Segments))
	for _, seg := range res.Segments {
		if t := strings.TrimSpace(seg.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " "), nil
}

func (w *WhisperHTTPTranscriber) transcribeOnce(ctx context.Context, wav []byte) (*whisperResult, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("audio", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create form file: %w", ErrNonRetryable, err)
	}
	if _, err := part.Write(wav); err != nil {
		return nil, fmt.Errorf("%w: failed to write audio: %w", ErrNonRetryable, err)
	}
	fields := [][2]string{
		{"model", w.model},
		{"response_format", "json"},
		// temperature 0 reduces hallucinated repetitions
		{"temperature", "0.0"},
	}
	if w.language != "" {
		fields = append(fields, [2]string{"language", w.language})
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, fmt.Errorf("%w: failed to write %s field: %w", ErrNonRetryable, f[0], err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("%w: failed to close multipart writer: %w", ErrNonRetryable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.apiURL+"/api/whisper/transcribe", body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create HTTP request: %w", ErrNonRetryable, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	w.logger.Debug("sending transcription request", "url", w.apiURL, "model", w.model, "bytes", len(wav))
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, &RemoteError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			Body:       truncate(string(raw), 512),
		}
	}

	var result whisperResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return &result, nil
}

// HealthCheck calls GET /api/whisper/model.
func (w *WhisperHTTPTranscriber) HealthCheck(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.apiURL+"/api/whisper/model", nil)
	if err != nil {
		return false, fmt.Errorf("failed to create health check request: %w", err)
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return true, nil
	}
	return false, fmt.Errorf("health check failed: status %d", resp.StatusCode)
}

func (w *WhisperHTTPTranscriber) Name() string { return "go-whisper" }
