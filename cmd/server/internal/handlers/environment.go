package handlers

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/scribeflow/cmd/server/internal/orchestrator"
)

// EnvironmentHandler 处理环境检查相关的 HTTP 请求
type EnvironmentHandler struct {
	orch         *orchestrator.Orchestrator
	cachedStatus *orchestrator.EnvironmentStatus
	mutex        sync.Mutex
}

// NewEnvironmentHandler 创建新的环境检查处理器
func NewEnvironmentHandler(orch *orchestrator.Orchestrator) *EnvironmentHandler {
	return &EnvironmentHandler{orch: orch}
}

// GetStatus 处理 GET /api/v1/environment/status 请求
// 支持 force=true 查询参数强制重新检查
func (h *EnvironmentHandler) GetStatus(c *gin.Context) {
	if h.orch == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "orchestrator not initialized"})
		return
	}
	force := c.Query("force") == "true"

	h.mutex.Lock()
	if force || h.cachedStatus == nil {
		h.cachedStatus = h.orch.CheckEnvironment(c.Request.Context())
	}
	status := h.cachedStatus
	h.mutex.Unlock()

	c.JSON(http.StatusOK, gin.H{"success": true, "data": status})
}
