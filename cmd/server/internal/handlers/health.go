package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/scribeflow/cmd/server/internal/metrics"
	"github.com/houzhh15/scribeflow/cmd/server/internal/orchestrator"
	"github.com/houzhh15/scribeflow/cmd/server/internal/orchestrator/degradation"
	"github.com/houzhh15/scribeflow/cmd/server/internal/orchestrator/health"
)

// HandleHealthz 存活探针：进程在即返回 200，附带任务统计
func HandleHealthz(orch *orchestrator.Orchestrator, checker *health.Checker) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		if orch != nil {
			body["jobs"] = orch.Stats()
		}
		if checker != nil {
			body["transcriber"] = checker.Status()
		}
		c.JSON(http.StatusOK, body)
	}
}

// HandleReadyz 就绪探针：就绪门打开且环境检查通过时返回 200，否则 503
func HandleReadyz(orch *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if orch == nil {
			metrics.SetPipelineReady(false)
			c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "issues": []string{"orchestrator not initialized"}})
			return
		}
		status := orch.CheckEnvironment(c.Request.Context())
		metrics.SetPipelineReady(status.Ready)

		code := http.StatusOK
		if !status.Ready {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	}
}

// HandleTranscriberHealth 返回当前转写实现及其健康、降级状态
//
// 响应格式:
//
//	{
//	  "success": true,
//	  "data": {
//	    "implementation": "go-whisper",
//	    "is_healthy": true,
//	    "is_degraded": false,
//	    "last_check_time": "2025-10-11T02:20:00Z",
//	    "consecutive_fails": 0,
//	    "error_message": ""
//	  }
//	}
func HandleTranscriberHealth(ctrl *degradation.Controller, checker *health.Checker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if checker == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"success": false,
				"error":   "transcriber health checking not configured",
			})
			return
		}

		status := checker.Status()
		implementation := status.Name
		degraded := false
		if ctrl != nil {
			implementation = ctrl.Name()
			degraded = ctrl.IsDegraded()
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data": gin.H{
				"implementation":    implementation,
				"is_healthy":        status.IsHealthy,
				"is_degraded":       degraded,
				"last_check_time":   status.LastCheckTime,
				"consecutive_fails": status.ConsecutiveFails,
				"error_message":     status.ErrorMessage,
			},
		})
	}
}
