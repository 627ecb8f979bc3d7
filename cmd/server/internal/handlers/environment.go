package handlers

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/houzhh15/vtscribe/cmd/server/internal/orchestrator"
)

// EnvironmentHandler 处理环境检查相关的 HTTP 请求
type EnvironmentHandler struct {
	opts         orchestrator.EnvironmentOptions
	cachedStatus *orchestrator.EnvironmentStatus
	mutex        sync.Mutex
}

// NewEnvironmentHandler 创建新的环境检查处理器
func NewEnvironmentHandler(opts orchestrator.EnvironmentOptions) *EnvironmentHandler {
	return &EnvironmentHandler{opts: opts}
}

// Status 返回缓存的检查结果；force 或尚无缓存时重新检查
func (h *EnvironmentHandler) Status(r *http.Request, force bool) *orchestrator.EnvironmentStatus {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if force || h.cachedStatus == nil {
		h.cachedStatus = orchestrator.CheckEnvironment(r.Context(), h.opts)
	}
	return h.cachedStatus
}

// GetStatus 处理 GET /api/v1/environment/status 请求
// 支持 force=true 查询参数强制重新检查；环境未就绪时返回 503
func (h *EnvironmentHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status := h.Status(r, r.URL.Query().Get("force") == "true")

	code := http.StatusOK
	if !status.Ready {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(status); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
