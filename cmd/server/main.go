package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "vtscribe",
		Short:   "vtscribe - 音视频转写编排服务",
		Long:    "把 URL、S3 对象或本地文件转写为带时间戳的文本，支持云端 Whisper 与本地 faster-whisper 两种后端。",
		Version: version,
	}
	rootCmd.PersistentFlags().String("config", "", "YAML 配置文件路径 (等价于 CONFIG_FILE)")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if path, _ := cmd.Flags().GetString("config"); path != "" {
			return os.Setenv("CONFIG_FILE", path)
		}
		return nil
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newTranscribeCmd())
	rootCmd.AddCommand(newQuotaCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
