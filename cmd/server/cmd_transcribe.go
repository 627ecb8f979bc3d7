package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator"
	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/router"
	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/transcript"
	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/whisper"
)

func newTranscribeCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "transcribe <source>",
		Short: "在本进程内转写一个音源 (URL / s3://bucket/key / 本地文件)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadSettings()
			if err != nil {
				return err
			}
			format, err := transcript.ParseFormat(mustGetString(cmd, "format"))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			req, err := transcribeRequest(cmd, a.orch.Config().Chunking, args[0])
			if err != nil {
				return err
			}

			tr, err := a.orch.Transcribe(ctx, req)
			if err != nil {
				oe := orchestrator.Classify(err)
				return fmt.Errorf("%s: %w", oe.Code, err)
			}
			return writeTranscript(mustGetString(cmd, "output"), tr, format)
		},
	}
	c.Flags().StringP("format", "f", "text", "输出格式: json|text|srt|vtt")
	c.Flags().StringP("output", "o", "", "输出文件 (默认 stdout)")
	c.Flags().StringP("backend", "b", "auto", "后端: local|cloud|auto")
	c.Flags().StringP("language", "l", "", "语言代码 (如 en, zh)，留空自动识别")
	c.Flags().String("model", "", "模型名称，留空使用后端默认值")
	c.Flags().String("task", "transcribe", "任务: transcribe|translate")
	c.Flags().Bool("no-chunk", false, "不切片，整段上传")
	c.Flags().Float64("chunk-seconds", 0, "切片长度（秒），0 使用配置默认值")
	c.Flags().Float64("overlap", 0, "相邻切片重叠（秒）")
	c.Flags().Bool("accelerated", false, "并行转写切片")
	return c
}

// transcribeRequest 把命令行标志转换为编排请求；未显式设置的切片参数沿用 defaults
func transcribeRequest(cmd *cobra.Command, defaults orchestrator.ChunkingOptions, source string) (orchestrator.Request, error) {
	mode, err := router.ParseMode(mustGetString(cmd, "backend"))
	if err != nil {
		return orchestrator.Request{}, err
	}
	req := orchestrator.Request{
		SourceRef: source,
		Language:  mustGetString(cmd, "language"),
		Model:     mustGetString(cmd, "model"),
		Task:      whisper.Task(strings.ToLower(mustGetString(cmd, "task"))),
		Backend:   mode,
	}

	flags := cmd.Flags()
	if flags.Changed("no-chunk") || flags.Changed("chunk-seconds") || flags.Changed("overlap") || flags.Changed("accelerated") {
		opts := defaults
		if v, _ := flags.GetBool("no-chunk"); v {
			opts.Enabled = false
		}
		if v, _ := flags.GetFloat64("chunk-seconds"); v > 0 {
			opts.ChunkSeconds = v
		}
		if flags.Changed("overlap") {
			opts.OverlapSeconds, _ = flags.GetFloat64("overlap")
		}
		if flags.Changed("accelerated") {
			opts.Accelerated, _ = flags.GetBool("accelerated")
		}
		req.Chunking = &opts
	}
	return req, nil
}

// writeTranscript 输出到文件或 stdout
func writeTranscript(path string, tr *transcript.Transcript, format transcript.Format) error {
	var w io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}
	return transcript.Write(w, tr, format)
}

// mustGetString 读取字符串标志，标志不存在时返回空串
func mustGetString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}

