package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator"
	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/quota"
)

// errorResponse 返回错误响应
func errorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"success": false,
		"error":   message,
	})
}

// badRequestResponse 返回 400 响应
func badRequestResponse(c *gin.Context, message string) {
	errorResponse(c, http.StatusBadRequest, message)
}

// successResponse 返回成功响应
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

// orchErrorResponse 把转写终态错误映射为 HTTP 状态码与错误码
func orchErrorResponse(c *gin.Context, err error) {
	oe := orchestrator.Classify(err)
	body := gin.H{
		"success": false,
		"code":    oe.Code,
		"error":   oe.Message,
	}
	if oe.Cause != nil {
		body["detail"] = oe.Cause.Error()
	}
	var exceeded *quota.ExceededError
	if errors.As(err, &exceeded) && exceeded.Window != quota.WindowHourAudioSeconds {
		body["hint"] = "daily cloud quota exhausted, try again tomorrow or use backend=local"
	}
	c.JSON(oe.Code.HTTPStatus(), body)
}
