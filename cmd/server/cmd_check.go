package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// newCheckCmd runs the readiness checks once and prints the result.
func newCheckCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "check",
		Short: "检查转写服务、ffmpeg 与临时目录是否就绪",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			timeout, _ := cmd.Flags().GetDuration("timeout")
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			// 单次探测，不重试
			if status := a.checker.CheckNow(ctx); status.ConsecutiveFails == 0 || a.degrade != nil {
				a.gate.Open(nil)
			}
			status := a.orch.CheckEnvironment(ctx)
			if err := writeJSON(cmd.OutOrStdout(), status); err != nil {
				return err
			}
			if !status.Ready {
				return fmt.Errorf("environment not ready: %d issue(s)", len(status.Issues))
			}
			return nil
		},
	}
	c.Flags().Duration("timeout", 30*time.Second, "检查超时")
	return c
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "打印生效配置（敏感信息脱敏）",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), cfg.PrintConfig())
			return err
		},
	}
}
