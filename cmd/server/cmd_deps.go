package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/houzhh15/scribeflow/cmd/server/internal/config"
	"github.com/houzhh15/scribeflow/cmd/server/internal/middleware"
	"github.com/houzhh15/scribeflow/cmd/server/internal/orchestrator/dependency"
	"github.com/houzhh15/scribeflow/pkg/logger"
)

// newDepsServiceCmd 启动 ffmpeg 命令执行服务，供 dependency.mode=remote/fallback 的实例调用。
// 调用方与本服务需要共享音频所在的卷。
func newDepsServiceCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "deps-service",
		Short: "启动外部命令执行服务（ffmpeg）",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if level, _ := cmd.Flags().GetString("log-level"); level != "" {
				cfg.Log.Level = level
			}
			log, err := logger.Init(cfg.Log)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}

			svcCfg := dependency.DefaultServiceConfig()
			svcCfg.Executor = cfg.Dependency
			svcCfg.Executor.Mode = dependency.ModeLocal
			svcCfg.MaxConcurrent, _ = cmd.Flags().GetInt("max-concurrent")
			svcCfg.AcquireTimeout, _ = cmd.Flags().GetDuration("acquire-timeout")
			svcCfg.AuditLogPath, _ = cmd.Flags().GetString("audit-log")

			svc := dependency.NewService(svcCfg, log.With("component", "deps-service"))
			defer svc.Close()

			if cfg.IsProduction() {
				gin.SetMode(gin.ReleaseMode)
			}
			r := gin.New()
			r.Use(gin.Recovery(), middleware.RequestLogger(log))
			svc.Register(r)

			addr := mustGetString(cmd, "addr")
			srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				log.Info("deps-service starting",
					"addr", addr,
					"allowed_commands", svcCfg.Executor.AllowedCommands,
					"max_concurrent", svcCfg.MaxConcurrent,
				)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return err
				}
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	c.Flags().String("addr", ":8091", "监听地址")
	c.Flags().Int("max-concurrent", 2, "每个命令的最大并发数")
	c.Flags().Duration("acquire-timeout", 30*time.Second, "等待执行槽位的最长时间")
	c.Flags().String("audit-log", "", "审计日志路径（为空则不写）")
	return c
}
