// Package degradation switches between a primary and a fallback transcriber
// according to the primary's health.
package degradation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/houzhh15/scribeflow/cmd/server/internal/capability"
	"github.com/houzhh15/scribeflow/cmd/server/internal/orchestrator/health"
	"github.com/houzhh15/scribeflow/pkg/metrics"
)

// Controller is itself a capability.Transcriber: every call goes to the
// implementation selected by the latest health status.
type Controller struct {
	primary  capability.MonitoredTranscriber
	fallback capability.MonitoredTranscriber
	checker  *health.Checker
	logger   *slog.Logger

	mu       sync.Mutex
	current  capability.MonitoredTranscriber
	degraded bool
}

var _ capability.MonitoredTranscriber = (*Controller)(nil)

func NewController(primary, fallback capability.MonitoredTranscriber, checker *health.Checker, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		primary:  primary,
		fallback: fallback,
		checker:  checker,
		logger:   logger,
		current:  primary,
	}
}

// Current returns the active transcriber, switching first if the primary's
// health changed since the last call.
func (c *Controller) Current() capability.MonitoredTranscriber {
	status := c.checker.Status()

	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case !status.IsHealthy && !c.degraded:
		c.logger.Warn("degrading to fallback transcriber",
			"primary", c.primary.Name(),
			"fallback", c.fallback.Name(),
			"reason", status.ErrorMessage,
		)
		metrics.RecordDegradationEvent(c.primary.Name(), c.fallback.Name())
		c.current, c.degraded = c.fallback, true
	case status.IsHealthy && status.ConsecutiveFails == 0 && c.degraded:
		c.logger.Info("recovering to primary transcriber", "primary", c.primary.Name())
		metrics.RecordDegradationEvent(c.fallback.Name(), c.primary.Name())
		c.current, c.degraded = c.primary, false
	}
	return c.current
}

// ForceFallback switches to the fallback before the checker's failure
// threshold is reached. The primary comes back after its next successful
// probe.
func (c *Controller) ForceFallback(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.degraded {
		return
	}
	c.logger.Warn("degrading to fallback transcriber",
		"primary", c.primary.Name(),
		"fallback", c.fallback.Name(),
		"reason", reason,
		"forced", true,
	)
	metrics.RecordDegradationEvent(c.primary.Name(), c.fallback.Name())
	c.current, c.degraded = c.fallback, true
}

// IsDegraded reports whether the fallback is active.
func (c *Controller) IsDegraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

func (c *Controller) Transcribe(ctx context.Context, wav []byte) (string, error) {
	return c.Current().Transcribe(ctx, wav)
}

func (c *Controller) HealthCheck(ctx context.Context) (bool, error) {
	return c.Current().HealthCheck(ctx)
}

func (c *Controller) Name() string { return c.Current().Name() }
