package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/health"
)

// HandleWhisperHealthCheck 创建转写后端健康检查的HTTP处理函数
// 参数:
//
//	checkers: 每个已配置后端的周期性健康检查器 (cloud/local)
//
// 返回:
//
//	gin.HandlerFunc: 可以注册到路由的处理函数
//
// 响应格式:
//
//	{
//	  "success": true,
//	  "data": {
//	    "healthy": true,
//	    "backends": [
//	      {"backend": "local", "is_healthy": true, "last_check_time": "...", "consecutive_fails": 0, "error_message": ""}
//	    ]
//	  }
//	}
//
// 没有任何健康后端时返回 503。
func HandleWhisperHealthCheck(checkers []*health.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(checkers) == 0 {
			errorResponse(c, http.StatusServiceUnavailable, "no transcription backend configured")
			return
		}

		statuses := make([]health.ServiceStatus, 0, len(checkers))
		anyHealthy := false
		for _, hc := range checkers {
			st := hc.GetStatus()
			anyHealthy = anyHealthy || st.IsHealthy
			statuses = append(statuses, st)
		}

		code := http.StatusOK
		if !anyHealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"success": anyHealthy,
			"data": gin.H{
				"healthy":  anyHealthy,
				"backends": statuses,
			},
		})
	}
}
