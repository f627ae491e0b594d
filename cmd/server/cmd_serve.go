package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/houzhh15/scribeflow/cmd/server/internal/handlers"
)

func newServeCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "serve",
		Short: "启动运维 HTTP 服务（健康检查、就绪探针与指标）",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.Server.Addr = addr
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			if cfg.IsProduction() {
				gin.SetMode(gin.ReleaseMode)
			}
			a.logger.Debug(cfg.PrintConfig())

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
			defer stop()

			// 就绪门在转写服务首次健康后打开，之后由检查器持续探测
			go func() {
				if err := a.waitReady(ctx, cfg.Capabilities.Health.Interval); err != nil {
					return
				}
				a.checker.Start(ctx)
			}()
			defer a.checker.Stop()

			r := handlers.NewRouter(handlers.Deps{
				Orchestrator: a.orch,
				Degradation:  a.degrade,
				Checker:      a.checker,
				Logger:       a.logger.With("component", "http"),
			})
			srv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           r,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("server starting", "addr", cfg.Server.Addr, "env", cfg.Server.Env, "version", version)
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
			a.logger.Info("shutdown signal received, shutting down server...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("server forced to shutdown", "error", err)
				return err
			}
			a.logger.Info("server shutdown complete")
			return nil
		},
	}
	c.Flags().String("addr", "", "监听地址（覆盖配置）")
	return c
}
