package capability

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/houzhh15/scribeflow/pkg/metrics"
)

// Endpoint binds a capability to a worker and its per-attempt timeout.
type Endpoint struct {
	Worker  *WorkerClient
	Timeout time.Duration
}

// RemoteClient implements every capability over serverless workers, each
// call wrapped in InvokeWithRetry.
type RemoteClient struct {
	endpoints map[string]Endpoint
	policy    RetryPolicy
	language  string
	logger    *slog.Logger
}

var (
	_ MonitoredTranscriber = (*RemoteClient)(nil)
	_ Diarizer             = (*RemoteClient)(nil)
	_ Aligner              = (*RemoteClient)(nil)
	_ Punctuator           = (*RemoteClient)(nil)
	_ Denormalizer         = (*RemoteClient)(nil)
)

// NewRemoteClient creates a client with no endpoints; add them with Register.
func NewRemoteClient(policy RetryPolicy, language string, logger *slog.Logger) *RemoteClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteClient{
		endpoints: make(map[string]Endpoint),
		policy:    policy,
		language:  language,
		logger:    logger,
	}
}

// Register routes capability to worker.
func (c *RemoteClient) Register(capability string, worker *WorkerClient, timeout time.Duration) {
	c.endpoints[capability] = Endpoint{Worker: worker, Timeout: timeout}
}

// Supports reports whether capability has an endpoint.
func (c *RemoteClient) Supports(capability string) bool {
	_, ok := c.endpoints[capability]
	return ok
}

type transcribeInput struct {
	Audio    string `json:"audio_base64"`
	Language string `json:"language,omitempty"`
}

type textOutput struct {
	Text string `json:"text"`
}

func (c *RemoteClient) Transcribe(ctx context.Context, wav []byte) (string, error) {
	out, err := invoke[textOutput](ctx, c, CapTranscribe, transcribeInput{
		Audio:    base64.StdEncoding.EncodeToString(wav),
		Language: c.language,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Text), nil
}

type diarizeInput struct {
	Audio       string `json:"audio_base64"`
	NumSpeakers int    `json:"num_speakers,omitempty"`
	MaxSpeakers int    `json:"max_speakers,omitempty"`
}

type diarizeOutput struct {
	Segments []SpeakerTimeSegment `json:"segments"`
}

func (c *RemoteClient) Diarize(ctx context.Context, wav []byte, opts DiarizeOptions) ([]SpeakerTimeSegment, error) {
	out, err := invoke[diarizeOutput](ctx, c, CapDiarize, diarizeInput{
		Audio:       base64.StdEncoding.EncodeToString(wav),
		NumSpeakers: opts.KnownSpeakers,
		MaxSpeakers: opts.MaxSpeakers,
	})
	if err != nil {
		return nil, err
	}
	return out.Segments, nil
}

type alignInput struct {
	Audio    string `json:"audio_base64"`
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

type alignOutput struct {
	Words []Word `json:"words"`
}

func (c *RemoteClient) Align(ctx context.Context, wav []byte, text string) ([]Word, error) {
	out, err := invoke[alignOutput](ctx, c, CapAlign, alignInput{
		Audio:    base64.StdEncoding.EncodeToString(wav),
		Text:     text,
		Language: c.language,
	})
	if err != nil {
		return nil, err
	}
	return out.Words, nil
}

type textInput struct {
	Text     string `json:"text"`
	Style    string `json:"style,omitempty"`
	Language string `json:"language,omitempty"`
}

func (c *RemoteClient) Punctuate(ctx context.Context, text string) (string, error) {
	out, err := invoke[textOutput](ctx, c, CapPunctuate, textInput{Text: text, Language: c.language})
	if err != nil {
		return "", err
	}
	return out.Text, nil
}

func (c *RemoteClient) Denormalize(ctx context.Context, text, style string) (string, error) {
	out, err := invoke[textOutput](ctx, c, CapDenormalize, textInput{Text: text, Style: style, Language: c.language})
	if err != nil {
		return "", err
	}
	return out.Text, nil
}

// HealthCheck probes the transcription worker.
func (c *RemoteClient) HealthCheck(ctx context.Context) (bool, error) {
	ep, ok := c.endpoints[CapTranscribe]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotConfigured, CapTranscribe)
	}
	return ep.Worker.HealthCheck(ctx)
}

func (c *RemoteClient) Name() string { return "remote-worker" }

func invoke[O any](ctx context.Context, c *RemoteClient, capability string, input any) (O, error) {
	var zero O
	ep, ok := c.endpoints[capability]
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrNotConfigured, capability)
	}

	policy := c.policy
	policy.OnRetry = func(attempt int, reason string, delay time.Duration, err error) {
		metrics.RecordRetry(capability, reason)
		c.logger.Warn("capability call failed, retrying",
			"capability", capability,
			"attempt", attempt,
			"reason", reason,
			"delay_ms", delay.Milliseconds(),
			"error", err,
		)
	}

	start := time.Now()
	out, err := InvokeWithRetry(ctx, policy, ep.Timeout, func(ctx context.Context) (O, error) {
		var o O
		err := ep.Worker.Run(ctx, input, &o)
		return o, err
	})
	metrics.RecordCapabilityDuration(capability, time.Since(start).Seconds())
	metrics.RecordCapabilityCall(capability, callStatus(err))
	if err != nil {
		return zero, fmt.Errorf("%s: %w", capability, err)
	}
	return out, nil
}

func callStatus(err error) string {
	var remoteErr *RemoteError
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNonRetryable):
		return "rejected"
	case errors.As(err, &remoteErr) && remoteErr.RateLimited():
		return "rate_limited"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "failed"
	}
}
