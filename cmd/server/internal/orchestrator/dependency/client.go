package dependency

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/houzhh15/scribeflow/pkg/metrics"
)

// Client is the facade the pipeline uses for ffmpeg work. It builds the
// command line, validates it and hands it to the configured executor.
type Client struct {
	executor Executor
	config   ExecutorConfig
	logger   *slog.Logger
}

// NewClient selects the executor from config.Mode.
func NewClient(config ExecutorConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var executor Executor
	switch config.Mode {
	case ModeLocal, "":
		config.Mode = ModeLocal
		executor = NewLocalExecutor(config)
	case ModeRemote:
		executor = NewRemoteExecutor(config, logger)
	case ModeFallback:
		executor = NewFallbackExecutor(config, logger)
	default:
		return nil, fmt.Errorf("invalid execution mode: %s (must be 'local', 'remote', or 'fallback')", config.Mode)
	}
	if config.Mode != ModeLocal && config.ServiceURL == "" {
		return nil, fmt.Errorf("service_url is required for %s mode", config.Mode)
	}
	return NewClientWithExecutor(executor, config, logger), nil
}

// NewClientWithExecutor wires an explicit executor (tests, custom transports).
func NewClientWithExecutor(executor Executor, config ExecutorConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{executor: executor, config: config, logger: logger}
}

func (c *Client) run(ctx context.Context, req CommandRequest) (CommandResponse, error) {
	if err := ValidateCommandRequest(req, c.config); err != nil {
		return CommandResponse{}, fmt.Errorf("command validation failed: %w", err)
	}
	resp, err := c.executor.ExecuteCommand(ctx, req)
	if _, self := c.executor.(*FallbackExecutor); !self {
		metrics.RecordCommandExecution(req.Command, string(c.config.Mode), executionStatus(resp, err))
	}
	return resp, err
}

// ConvertToWAV converts any ffmpeg-readable input to 16 kHz mono 16-bit WAV.
func (c *Client) ConvertToWAV(ctx context.Context, inputPath, outputPath string) error {
	req := CommandRequest{
		Command: "ffmpeg",
		Args: []string{
			"-y",
			"-i", inputPath,
			"-ar", "16000",
			"-ac", "1",
			"-c:a", "pcm_s16le",
			outputPath,
		},
		Timeout: c.config.DefaultTimeout,
	}

	start := time.Now()
	resp, err := c.run(ctx, req)
	if err != nil {
		return fmt.Errorf("audio conversion failed: %w", err)
	}
	if !resp.Success || resp.ExitCode != 0 {
		return fmt.Errorf("audio conversion failed (exit code %d): %s", resp.ExitCode, lastLines(resp.Stderr, 5))
	}

	c.logger.Info("audio converted",
		"input", inputPath,
		"output", outputPath,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// SilenceInterval is a silence reported by ffmpeg, in milliseconds relative
// to the start of the analysed range.
type SilenceInterval struct {
	StartMs int64
	EndMs   int64
}

// DetectSilence runs ffmpeg silencedetect over [fromMs, toMs] of path.
func (c *Client) DetectSilence(ctx context.Context, path string, fromMs, toMs int64, thresholdDB float64, minSilence time.Duration) ([]SilenceInterval, error) {
	if toMs <= fromMs {
		return nil, nil
	}
	req := CommandRequest{
		Command: "ffmpeg",
		Args: []string{
			"-hide_banner",
			"-nostats",
			"-ss", formatFFmpegTime(time.Duration(fromMs) * time.Millisecond),
			"-t", formatFFmpegTime(time.Duration(toMs-fromMs) * time.Millisecond),
			"-i", path,
			"-af", fmt.Sprintf("silencedetect=noise=%gdB:d=%g", thresholdDB, minSilence.Seconds()),
			"-f", "null",
			"-",
		},
		Timeout: c.config.DefaultTimeout,
	}

	resp, err := c.run(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("silence detection failed: %w", err)
	}
	if !resp.Success || resp.ExitCode != 0 {
		return nil, fmt.Errorf("silence detection failed (exit code %d): %s", resp.ExitCode, lastLines(resp.Stderr, 5))
	}
	return ParseSilenceDetect(resp.Stderr, toMs-fromMs), nil
}

var (
	silenceStartRe = regexp.MustCompile(`silence_start:\s*(-?[\d.]+)`)
	silenceEndRe   = regexp.MustCompile(`silence_end:\s*([\d.]+)`)
)

// ParseSilenceDetect extracts intervals from silencedetect output. An open
// silence_start without a matching end is closed at rangeMs.
func ParseSilenceDetect(output string, rangeMs int64) []SilenceInterval {
	var (
		out   []SilenceInterval
		start int64 = -1
	)
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if m := silenceStartRe.FindStringSubmatch(line); m != nil {
			start = secondsToMs(m[1])
			if start < 0 {
				start = 0
			}
			continue
		}
		if m := silenceEndRe.FindStringSubmatch(line); m != nil && start >= 0 {
			end := secondsToMs(m[1])
			if end > rangeMs {
				end = rangeMs
			}
			if end > start {
				out = append(out, SilenceInterval{StartMs: start, EndMs: end})
			}
			start = -1
		}
	}
	if start >= 0 && start < rangeMs {
		out = append(out, SilenceInterval{StartMs: start, EndMs: rangeMs})
	}
	return out
}

func secondsToMs(s string) int64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return -1
	}
	return int64(f * 1000)
}

// formatFFmpegTime formats a duration as HH:MM:SS.mmm.
func formatFFmpegTime(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := d.Seconds() - float64(h*3600+m*60)
	return fmt.Sprintf("%02d:%02d:%06.3f", h, m, s)
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// HealthCheck delegates to the executor.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.executor.HealthCheck(ctx)
}

// Config returns the executor configuration.
func (c *Client) Config() ExecutorConfig {
	return c.config
}
