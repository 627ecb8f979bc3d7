package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator"
	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/dependency"
	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/router"
	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/transcript"
	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/whisper"
	"github.com/houzhh15/vtscribe/pkg/logger"
)

// Transcriber runs one transcription request (orchestrator.Orchestrator).
type Transcriber interface {
	Transcribe(ctx context.Context, req orchestrator.Request) (*transcript.Transcript, error)
}

// CreateTranscriptRequest is the JSON body of POST /v1/transcripts.
// Every field may also be passed as a query parameter; the body wins.
type CreateTranscriptRequest struct {
	SourceRef  string                        `json:"sourceRef"`
	URL        string                        `json:"url"`
	YoutubeURL string                        `json:"youtubeUrl"`
	Language   string                        `json:"language"`
	Model      string                        `json:"model"`
	Task       string                        `json:"task"`
	Backend    string                        `json:"backend"`
	Format     string                        `json:"format"`
	Chunking   *orchestrator.ChunkingOptions `json:"chunking"`
}

// source returns the first non-empty source field.
func (r CreateTranscriptRequest) source() string {
	for _, s := range []string{r.SourceRef, r.URL, r.YoutubeURL} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// fillFromQuery 用查询参数补齐 body 中缺失的字段
func (r *CreateTranscriptRequest) fillFromQuery(c *gin.Context) {
	fields := []struct {
		dst  *string
		keys []string
	}{
		{&r.SourceRef, []string{"sourceRef", "source"}},
		{&r.URL, []string{"url"}},
		{&r.YoutubeURL, []string{"youtubeUrl"}},
		{&r.Language, []string{"language"}},
		{&r.Model, []string{"model"}},
		{&r.Task, []string{"task"}},
		{&r.Backend, []string{"backend"}},
		{&r.Format, []string{"format"}},
	}
	for _, f := range fields {
		if *f.dst != "" {
			continue
		}
		for _, k := range f.keys {
			if v := c.Query(k); v != "" {
				*f.dst = v
				break
			}
		}
	}
}

// HandleCreateTranscript 创建转写任务并同步返回结果
// POST /v1/transcripts
//
// 请求:
//
//	{"url": "https://youtu.be/...", "language": "en", "backend": "auto", "format": "srt"}
//
// 响应: format=json（默认）返回 Transcript JSON；text/srt/vtt 返回对应文本。
// 失败时返回 {"success": false, "code": "QUOTA_EXCEEDED", "error": "..."}，状态码见 ErrorCode.HTTPStatus。
// 本地路径与 file:// 音源只允许位于 mediaRoot 之下；mediaRoot 为空时一律拒绝。
func HandleCreateTranscript(svc Transcriber, mediaRoot string, log *slog.Logger) gin.HandlerFunc {
	log = logger.OrDiscard(log).With("component", "api")
	return func(c *gin.Context) {
		var body CreateTranscriptRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
				badRequestResponse(c, "invalid JSON body: "+err.Error())
				return
			}
		}
		body.fillFromQuery(c)

		format, err := transcript.ParseFormat(body.Format)
		if err != nil {
			badRequestResponse(c, err.Error())
			return
		}

		req := orchestrator.Request{
			SourceRef: body.source(),
			Language:  body.Language,
			Model:     body.Model,
			Task:      whisper.Task(strings.ToLower(body.Task)),
			Backend:   router.Mode(body.Backend),
			Chunking:  body.Chunking,
		}

		rid, _ := c.Get("request_id")
		if path, ok := dependency.LocalPath(req.SourceRef); ok {
			resolved, err := dependency.ResolveUnderRoot(path, mediaRoot)
			if err != nil {
				log.Warn("local source rejected", "rid", rid, "source", req.SourceRef, "error", err)
				badRequestResponse(c, "local source rejected: "+err.Error())
				return
			}
			req.SourceRef = resolved
		}
		log.Info("transcription requested", "rid", rid, "source", req.SourceRef, "backend", req.Backend, "format", format)

		tr, err := svc.Transcribe(c.Request.Context(), req)
		if err != nil {
			log.Warn("transcription request failed", "rid", rid, "error", err)
			orchErrorResponse(c, err)
			return
		}

		if format == transcript.FormatJSON {
			c.JSON(http.StatusOK, tr)
			return
		}
		var buf bytes.Buffer
		if err := transcript.Write(&buf, tr, format); err != nil {
			errorResponse(c, http.StatusInternalServerError, "failed to render transcript: "+err.Error())
			return
		}
		c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
	}
}
