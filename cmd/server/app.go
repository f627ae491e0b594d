package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/houzhh15/scribeflow/cmd/server/internal/audio"
	"github.com/houzhh15/scribeflow/cmd/server/internal/capability"
	"github.com/houzhh15/scribeflow/cmd/server/internal/config"
	"github.com/houzhh15/scribeflow/cmd/server/internal/dispatch"
	"github.com/houzhh15/scribeflow/cmd/server/internal/orchestrator"
	"github.com/houzhh15/scribeflow/cmd/server/internal/orchestrator/degradation"
	"github.com/houzhh15/scribeflow/cmd/server/internal/orchestrator/dependency"
	"github.com/houzhh15/scribeflow/cmd/server/internal/orchestrator/health"
	"github.com/houzhh15/scribeflow/pkg/logger"
)

// app holds the wired services shared by run, serve and check.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	orch      *orchestrator.Orchestrator
	gate      *dispatch.Gate
	checker   *health.Checker
	degrade   *degradation.Controller
	converter *dependency.Client
}

// loadConfig reads --config, applies --log-level and validates.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newApp(cfg *config.Config) (*app, error) {
	log, err := logger.Init(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	a := &app{cfg: cfg, logger: log, gate: dispatch.NewGate()}

	caps, err := a.buildCapabilities()
	if err != nil {
		return nil, err
	}

	opts := []orchestrator.Option{
		orchestrator.WithLogger(log.With("component", "orchestrator")),
		orchestrator.WithGate(a.gate),
	}
	converter, err := dependency.NewClient(cfg.Dependency, log.With("component", "dependency"))
	if err != nil {
		log.Warn("ffmpeg unavailable, only WAV input is supported", "error", err)
	} else {
		a.converter = converter
		opts = append(opts, orchestrator.WithConverter(converter))
		if cfg.Capabilities.SilenceDetector == "ffmpeg" {
			opts = append(opts, orchestrator.WithSilenceDetector(&audio.FFmpegSilenceDetector{
				Client:  converter,
				TempDir: cfg.Pipeline.ScratchDir,
			}))
		}
	}

	orch, err := orchestrator.New(cfg.Pipeline, caps, opts...)
	if err != nil {
		return nil, err
	}
	a.orch = orch
	return a, nil
}

// buildCapabilities registers one worker per configured endpoint and
// chooses the transcriber: remote worker, go-whisper, or remote with
// go-whisper as degradation fallback.
func (a *app) buildCapabilities() (orchestrator.Capabilities, error) {
	c := a.cfg.Capabilities
	log := a.logger.With("component", "capability")

	remote := capability.NewRemoteClient(c.Retry, c.Language, log)
	for name, ep := range c.Endpoints() {
		if ep.Enabled() {
			remote.Register(name, capability.NewWorkerClient(ep.WorkerConfig), ep.Timeout)
		}
	}

	var transcriber capability.MonitoredTranscriber
	if remote.Supports(capability.CapTranscribe) {
		transcriber = remote
	}
	if c.Whisper.URL != "" {
		wcfg := c.Whisper
		if wcfg.Language == "" {
			wcfg.Language = c.Language
		}
		whisper := capability.NewWhisperHTTPTranscriber(wcfg, c.Retry, log)
		if transcriber == nil {
			transcriber = whisper
		} else {
			a.checker = health.NewChecker(remote, c.Health.Interval, c.Health.FailThreshold, log)
			a.degrade = degradation.NewController(remote, whisper, a.checker, log)
			transcriber = a.degrade
		}
	}
	if transcriber == nil {
		return orchestrator.Capabilities{}, fmt.Errorf("no transcriber configured")
	}
	if a.checker == nil {
		a.checker = health.NewChecker(transcriber, c.Health.Interval, c.Health.FailThreshold, log)
	}

	caps := orchestrator.Capabilities{Transcriber: transcriber}
	if remote.Supports(capability.CapDiarize) {
		caps.Diarizer = remote
	}
	if remote.Supports(capability.CapAlign) {
		caps.Aligner = remote
	}
	if remote.Supports(capability.CapPunctuate) {
		caps.Punctuator = remote
	}
	if remote.Supports(capability.CapDenormalize) {
		caps.Denormalizer = remote
	}
	return caps, nil
}

// waitReady probes the transcriber until it answers healthy (or a fallback
// is available) and then opens the gate. When ctx ends first the gate is
// opened with the error so queued work fails instead of hanging.
func (a *app) waitReady(ctx context.Context, retryEvery time.Duration) error {
	ticker := time.NewTicker(retryEvery)
	defer ticker.Stop()
	for {
		status := a.checker.CheckNow(ctx)
		if status.ConsecutiveFails == 0 {
			a.logger.Info("transcriber ready, opening pipeline gate", "transcriber", status.Name)
			a.gate.Open(nil)
			return nil
		}
		if a.degrade != nil {
			a.degrade.ForceFallback(status.ErrorMessage)
			a.logger.Warn("primary transcriber unhealthy, serving from fallback", "error", status.ErrorMessage)
			a.gate.Open(nil)
			return nil
		}
		a.logger.Warn("transcriber not ready yet", "transcriber", status.Name, "error", status.ErrorMessage)

		select {
		case <-ctx.Done():
			err := fmt.Errorf("transcriber %s not ready: %s: %w", status.Name, status.ErrorMessage, ctx.Err())
			a.gate.Open(err)
			return err
		case <-ticker.C:
		}
	}
}
