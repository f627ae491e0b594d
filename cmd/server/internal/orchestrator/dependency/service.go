package dependency

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/semaphore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ServiceVersion is reported by GET /api/v1/health.
const ServiceVersion = "1.0.0"

// ServiceConfig configures the command service that RemoteExecutor talks to.
type ServiceConfig struct {
	Executor ExecutorConfig `yaml:"executor"`

	// MaxConcurrent bounds simultaneous executions per command.
	MaxConcurrent int `yaml:"max_concurrent"`

	// AcquireTimeout is how long a request waits for a free slot before 503.
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`

	// AuditLogPath enables a rotated JSON audit trail. Empty disables it.
	AuditLogPath string `yaml:"audit_log_path"`
}

// DefaultServiceConfig allows two concurrent ffmpeg processes.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Executor:       DefaultExecutorConfig(),
		MaxConcurrent:  2,
		AcquireTimeout: 30 * time.Second,
	}
}

// Service executes whitelisted commands on behalf of remote callers.
type Service struct {
	config   ServiceConfig
	executor Executor
	limiter  *commandLimiter
	audit    *slog.Logger
	logger   *slog.Logger
	closer   io.Closer
}

// NewService builds a Service backed by a LocalExecutor.
func NewService(config ServiceConfig, logger *slog.Logger) *Service {
	return NewServiceWithExecutor(config, NewLocalExecutor(config.Executor), logger)
}

// NewServiceWithExecutor is used by tests to inject a fake executor.
func NewServiceWithExecutor(config ServiceConfig, executor Executor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 1
	}
	if config.AcquireTimeout <= 0 {
		config.AcquireTimeout = 30 * time.Second
	}
	s := &Service{
		config:   config,
		executor: executor,
		limiter:  newCommandLimiter(int64(config.MaxConcurrent)),
		logger:   logger,
	}
	if config.AuditLogPath != "" {
		w := &lumberjack.Logger{
			Filename:   config.AuditLogPath,
			MaxSize:    100,
			MaxBackups: 10,
			MaxAge:     30,
			Compress:   true,
		}
		s.audit = slog.New(slog.NewJSONHandler(w, nil))
		s.closer = w
	}
	return s
}

// Close flushes the audit log.
func (s *Service) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Register mounts the service routes on r.
func (s *Service) Register(r gin.IRouter) {
	r.POST("/api/v1/execute", s.handleExecute)
	r.GET("/api/v1/health", s.handleHealth)
}

func (s *Service) handleExecute(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "failed to decode JSON: "+err.Error())
		return
	}

	if err := ValidateCommandRequest(req, s.config.Executor); err != nil {
		s.auditRejection(req, err, c.ClientIP())
		respondError(c, http.StatusBadRequest, "invalid_arguments", err.Error())
		return
	}

	if err := s.limiter.acquire(c.Request.Context(), req.Command, s.config.AcquireTimeout); err != nil {
		respondError(c, http.StatusServiceUnavailable, "service_busy", "max concurrent executions reached")
		return
	}
	defer s.limiter.release(req.Command)

	resp, err := s.executor.ExecuteCommand(c.Request.Context(), req)
	s.auditExecution(req, resp, err, c.ClientIP())

	if err != nil && resp.ExitCode == 0 {
		// 执行器出错但没有拿到退出码
		respondError(c, http.StatusInternalServerError, "command_failed", err.Error())
		return
	}
	if resp.ExitCode != 0 {
		resp.Success = false
		c.JSON(http.StatusInternalServerError, resp)
		return
	}
	resp.Success = true
	c.JSON(http.StatusOK, resp)
}

func (s *Service) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	if err := s.executor.HealthCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"service": "command-executor",
			"error":   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "command-executor",
		"version": ServiceVersion,
	})
}

func (s *Service) auditExecution(req CommandRequest, resp CommandResponse, err error, source string) {
	result := "success"
	if err != nil || resp.ExitCode != 0 {
		result = "failed"
	}
	attrs := []any{
		"command", req.Command,
		"args", req.Args,
		"result", result,
		"exit_code", resp.ExitCode,
		"duration_ms", resp.DurationMs,
		"source_ip", source,
	}
	if err != nil {
		attrs = append(attrs, "error_message", err.Error())
	}
	s.logger.Info("command executed", attrs...)
	if s.audit != nil {
		s.audit.Info("execution", attrs...)
	}
}

func (s *Service) auditRejection(req CommandRequest, reason error, source string) {
	attrs := []any{
		"command", req.Command,
		"args", req.Args,
		"result", "rejected",
		"rejection_reason", reason.Error(),
		"source_ip", source,
	}
	s.logger.Warn("command rejected", attrs...)
	if s.audit != nil {
		s.audit.Info("rejection", attrs...)
	}
}

func respondError(c *gin.Context, status int, kind, detail string) {
	// stderr 字段让 RemoteExecutor 能带出原因
	c.JSON(status, gin.H{
		"error":   kind,
		"details": []string{detail},
		"stderr":  detail,
	})
}

// commandLimiter keeps one weighted semaphore per command name.
type commandLimiter struct {
	mu    sync.Mutex
	limit int64
	sems  map[string]*semaphore.Weighted
}

func newCommandLimiter(limit int64) *commandLimiter {
	return &commandLimiter{limit: limit, sems: make(map[string]*semaphore.Weighted)}
}

func (l *commandLimiter) get(command string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.sems[command]
	if !ok {
		sem = semaphore.NewWeighted(l.limit)
		l.sems[command] = sem
	}
	return sem
}

func (l *commandLimiter) acquire(ctx context.Context, command string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := l.get(command).Acquire(ctx, 1); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("timed out waiting for a %s slot: %w", command, err)
		}
		return err
	}
	return nil
}

func (l *commandLimiter) release(command string) {
	l.get(command).Release(1)
}
