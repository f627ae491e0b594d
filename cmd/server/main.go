package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "scribeflow",
		Short:         "scribeflow - 长音频转写编排服务",
		Long:          "将长音频切片并行转写，可选说话人分离、强制对齐与后处理，输出带说话人标注的完整转写稿。",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// 全局标志
	rootCmd.PersistentFlags().StringP("config", "c", os.Getenv("SCRIBEFLOW_CONFIG"), "YAML 配置文件路径")
	rootCmd.PersistentFlags().String("log-level", "", "日志级别覆盖 (debug/info/warn/error)")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMergeCmd())
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newDepsServiceCmd())
	return rootCmd
}
