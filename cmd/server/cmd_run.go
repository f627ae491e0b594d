package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/houzhh15/scribeflow/cmd/server/internal/transcript"
)

func newRunCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "run <audio>",
		Short: "转写单个音频文件并输出结果",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			if !transcript.ValidFormat(format) {
				return fmt.Errorf("unsupported format %q (text, json, srt, vtt)", format)
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("diarize") {
				cfg.Pipeline.EnableDiarization, _ = cmd.Flags().GetBool("diarize")
			}
			if n, _ := cmd.Flags().GetInt("speakers"); n > 0 {
				cfg.Pipeline.Diarization.KnownSpeakers = n
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			a, err := newApp(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if skip, _ := cmd.Flags().GetBool("skip-health-check"); skip {
				a.gate.Open(nil)
			} else {
				wait, _ := cmd.Flags().GetDuration("wait")
				waitCtx, cancel := context.WithTimeout(ctx, wait)
				err := a.waitReady(waitCtx, 2*time.Second)
				cancel()
				if err != nil {
					return err
				}
			}

			jobID, _ := cmd.Flags().GetString("job-id")
			res, err := a.orch.TranscribeFile(ctx, args[0], jobID)
			if err != nil {
				return err
			}

			var out io.Writer = cmd.OutOrStdout()
			if path, _ := cmd.Flags().GetString("output"); path != "" {
				f, err := os.Create(path)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer f.Close()
				out = f
			}
			if format == transcript.FormatJSON {
				return writeJSON(out, res)
			}
			return transcript.Write(out, format, res.Transcription())
		},
	}
	c.Flags().StringP("format", "f", transcript.FormatText, "输出格式: text, json, srt, vtt")
	c.Flags().StringP("output", "o", "", "输出文件（默认标准输出）")
	c.Flags().String("job-id", "", "任务 ID（默认随机生成）")
	c.Flags().Bool("diarize", false, "启用说话人分离（覆盖配置）")
	c.Flags().Int("speakers", 0, "已知说话人数")
	c.Flags().Duration("wait", 30*time.Second, "等待转写服务就绪的最长时间")
	c.Flags().Bool("skip-health-check", false, "跳过启动健康检查")
	return c
}
