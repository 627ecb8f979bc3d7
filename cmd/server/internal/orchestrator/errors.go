package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/dependency"
	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/quota"
	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/retry"
	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/router"
	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/whisper"
)

// ErrorCode 表示转写请求的终态错误类型代码
type ErrorCode string

const (
	// ACQUISITION_FAILED 音源下载/复制失败（URL 无效、对象不存在、yt-dlp 失败）
	ACQUISITION_FAILED ErrorCode = "ACQUISITION_FAILED"

	// TRANSCODE_FAILED ffmpeg 转码或切片失败
	TRANSCODE_FAILED ErrorCode = "TRANSCODE_FAILED"

	// QUOTA_EXCEEDED 云端日配额耗尽或单次请求超过小时上限
	QUOTA_EXCEEDED ErrorCode = "QUOTA_EXCEEDED"

	// BACKEND_UNAVAILABLE 后端探活失败
	BACKEND_UNAVAILABLE ErrorCode = "BACKEND_UNAVAILABLE"

	// BACKEND_TRANSIENT 429/5xx 重试耗尽
	BACKEND_TRANSIENT ErrorCode = "BACKEND_TRANSIENT"

	// BACKEND_REJECTED 后端返回不可重试的 4xx 或无法解析的响应
	BACKEND_REJECTED ErrorCode = "BACKEND_REJECTED"

	// PAYLOAD_TOO_LARGE 413 且已达到最大拆分深度
	PAYLOAD_TOO_LARGE ErrorCode = "PAYLOAD_TOO_LARGE"

	// ALL_BACKENDS_FAILED 主后端与回退后端均失败
	ALL_BACKENDS_FAILED ErrorCode = "ALL_BACKENDS_FAILED"

	// BACKEND_NOT_CONFIGURED 请求的后端未配置（如无云端 API Key）
	BACKEND_NOT_CONFIGURED ErrorCode = "BACKEND_NOT_CONFIGURED"

	// INVALID_REQUEST 请求参数无效
	INVALID_REQUEST ErrorCode = "INVALID_REQUEST"

	// CANCELLED 请求被取消或超时
	CANCELLED ErrorCode = "CANCELLED"

	// INTERNAL 其他内部错误
	INTERNAL ErrorCode = "INTERNAL"
)

// StatusClientClosedRequest nginx 约定的客户端断开状态码
const StatusClientClosedRequest = 499

// HTTPStatus 返回错误码对应的 HTTP 状态码
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case QUOTA_EXCEEDED:
		return http.StatusTooManyRequests
	case INVALID_REQUEST:
		return http.StatusBadRequest
	case ACQUISITION_FAILED, TRANSCODE_FAILED:
		return http.StatusUnprocessableEntity
	case ALL_BACKENDS_FAILED, BACKEND_TRANSIENT, BACKEND_REJECTED, PAYLOAD_TOO_LARGE:
		return http.StatusBadGateway
	case BACKEND_UNAVAILABLE, BACKEND_NOT_CONFIGURED:
		return http.StatusServiceUnavailable
	case CANCELLED:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// OrchError 表示一次转写请求的终态错误
type OrchError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}

// Error 实现 error 接口
func (e *OrchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 实现错误链支持
func (e *OrchError) Unwrap() error {
	return e.Cause
}

// NewOrchError 创建新的 Orchestrator 错误
func NewOrchError(code ErrorCode, message string, cause error) *OrchError {
	return &OrchError{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// NewInvalidRequestError 创建参数错误
func NewInvalidRequestError(format string, args ...any) *OrchError {
	return NewOrchError(INVALID_REQUEST, fmt.Sprintf(format, args...), nil)
}

// Classify 把处理链路上的任意错误归类为终态 OrchError；nil 返回 nil
func Classify(err error) *OrchError {
	if err == nil {
		return nil
	}

	var oe *OrchError
	if errors.As(err, &oe) {
		return oe
	}

	var (
		all *router.AllBackendsFailedError
		acq *dependency.AcquisitionError
		tc  *dependency.TranscodeError
		be  *whisper.BackendError
	)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return NewOrchError(CANCELLED, "request cancelled", err)
	case errors.Is(err, quota.ErrQuotaExceeded):
		return NewOrchError(QUOTA_EXCEEDED, "cloud quota exhausted, try again later", err)
	case errors.As(err, &all):
		return NewOrchError(ALL_BACKENDS_FAILED, "all transcription backends failed", err)
	case errors.Is(err, router.ErrBackendNotConfigured):
		return NewOrchError(BACKEND_NOT_CONFIGURED, "requested backend is not configured", err)
	case errors.As(err, &acq):
		return NewOrchError(ACQUISITION_FAILED, "failed to acquire source media", err)
	case errors.As(err, &tc):
		return NewOrchError(TRANSCODE_FAILED, "failed to transcode media", err)
	case errors.Is(err, whisper.ErrBackendUnavailable):
		return NewOrchError(BACKEND_UNAVAILABLE, "transcription backend unavailable", err)
	case whisper.IsPayloadTooLarge(err):
		return NewOrchError(PAYLOAD_TOO_LARGE, "audio chunk too large for backend", err)
	case whisper.IsTransient(err), errors.Is(err, retry.ErrRetriesExhausted):
		return NewOrchError(BACKEND_TRANSIENT, "transcription backend kept failing", err)
	case errors.As(err, &be), errors.Is(err, whisper.ErrMalformedResponse):
		return NewOrchError(BACKEND_REJECTED, "transcription backend rejected the request", err)
	default:
		return NewOrchError(INTERNAL, "internal error", err)
	}
}
