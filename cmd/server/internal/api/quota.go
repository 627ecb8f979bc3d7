package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator/quota"
)

// QuotaReporter exposes the cloud quota (quota.Guard).
type QuotaReporter interface {
	Snapshot(ctx context.Context) (quota.Snapshot, error)
	CheckExhaustion(ctx context.Context, anticipatedSeconds float64) (quota.Exhaustion, error)
}

// HandleQuotaStatus 返回云端配额上限与当前用量
// GET /api/v1/quota
func HandleQuotaStatus(q QuotaReporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if q == nil {
			errorResponse(c, http.StatusNotFound, "cloud backend not configured")
			return
		}
		ctx := c.Request.Context()
		ex, err := q.CheckExhaustion(ctx, 0)
		if err != nil {
			errorResponse(c, http.StatusInternalServerError, err.Error())
			return
		}
		snap, err := q.Snapshot(ctx)
		if err != nil {
			errorResponse(c, http.StatusInternalServerError, err.Error())
			return
		}
		successResponse(c, gin.H{
			"limits":     snap.Limits,
			"state":      snap.State,
			"exhaustion": ex,
			"exhausted":  ex.Exhausted(),
		})
	}
}
