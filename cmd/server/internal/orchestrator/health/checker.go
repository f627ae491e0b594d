// Package health probes a transcriber periodically and tracks consecutive
// failures so the degradation controller can switch implementations.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/houzhh15/scribeflow/cmd/server/internal/capability"
)

// probeTimeout bounds a single health probe.
const probeTimeout = 10 * time.Second

// ServiceStatus is the health of one transcriber; safe to expose as JSON.
type ServiceStatus struct {
	Name             string    `json:"name"`
	IsHealthy        bool      `json:"is_healthy"`
	LastCheckTime    time.Time `json:"last_check_time"`
	ConsecutiveFails int       `json:"consecutive_fails"`
	ErrorMessage     string    `json:"error_message,omitempty"`
}

// Checker monitors a MonitoredTranscriber. It starts healthy and turns
// unhealthy after failThreshold consecutive failed probes.
type Checker struct {
	target        capability.MonitoredTranscriber
	checkInterval time.Duration
	failThreshold int
	logger        *slog.Logger

	mu       sync.RWMutex
	status   ServiceStatus
	stopOnce sync.Once
	stopChan chan struct{}
}

func NewChecker(target capability.MonitoredTranscriber, checkInterval time.Duration, failThreshold int, logger *slog.Logger) *Checker {
	if failThreshold < 1 {
		failThreshold = 1
	}
	if checkInterval <= 0 {
		checkInterval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		target:        target,
		checkInterval: checkInterval,
		failThreshold: failThreshold,
		logger:        logger.With("transcriber", target.Name()),
		stopChan:      make(chan struct{}),
		status: ServiceStatus{
			Name:          target.Name(),
			IsHealthy:     true,
			LastCheckTime: time.Now(),
		},
	}
}

// Start probes immediately and then every checkInterval until Stop is
// called or ctx is cancelled. It blocks; run it in a goroutine.
func (c *Checker) Start(ctx context.Context) {
	ticker := time.NewTicker(c.checkInterval)
	defer ticker.Stop()

	c.CheckNow(ctx)
	for {
		select {
		case <-ticker.C:
			c.CheckNow(ctx)
		case <-c.stopChan:
			c.logger.Info("health checker stopped")
			return
		case <-ctx.Done():
			c.logger.Info("health checker context cancelled")
			return
		}
	}
}

// CheckNow runs one probe and returns the updated status.
func (c *Checker) CheckNow(ctx context.Context) ServiceStatus {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	healthy, err := c.target.HealthCheck(probeCtx)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.status.LastCheckTime = time.Now()
	if healthy {
		if !c.status.IsHealthy {
			c.logger.Info("transcriber healthy again", "previous_fails", c.status.ConsecutiveFails)
		}
		c.status.IsHealthy = true
		c.status.ConsecutiveFails = 0
		c.status.ErrorMessage = ""
		return c.status
	}

	c.status.ConsecutiveFails++
	c.status.ErrorMessage = "health check failed"
	if err != nil {
		c.status.ErrorMessage = err.Error()
	}
	if c.status.ConsecutiveFails >= c.failThreshold {
		if c.status.IsHealthy {
			c.logger.Error("transcriber marked unhealthy",
				"consecutive_fails", c.status.ConsecutiveFails,
				"error", c.status.ErrorMessage,
			)
		}
		c.status.IsHealthy = false
	} else {
		c.logger.Warn("health check failed",
			"consecutive_fails", c.status.ConsecutiveFails,
			"threshold", c.failThreshold,
			"error", c.status.ErrorMessage,
		)
	}
	return c.status
}

// Status returns a copy of the current status.
func (c *Checker) Status() ServiceStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Stop ends Start. Safe to call more than once.
func (c *Checker) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}
