// Package handlers is the operational HTTP surface of the service: health
// and readiness probes, Prometheus metrics and environment diagnostics.
package handlers

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/houzhh15/scribeflow/cmd/server/internal/middleware"
	"github.com/houzhh15/scribeflow/cmd/server/internal/orchestrator"
	"github.com/houzhh15/scribeflow/cmd/server/internal/orchestrator/degradation"
	"github.com/houzhh15/scribeflow/cmd/server/internal/orchestrator/health"
	"github.com/houzhh15/scribeflow/pkg/logger"
)

// Deps are the services the router serves. Degradation and Checker are
// optional.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Degradation  *degradation.Controller
	Checker      *health.Checker
	Logger       *slog.Logger
}

// NewRouter registers every route on a new gin engine.
func NewRouter(d Deps) *gin.Engine {
	d.Logger = logger.OrDefault(d.Logger)

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(d.Logger))

	r.GET("/healthz", HandleHealthz(d.Orchestrator, d.Checker))
	r.GET("/readyz", HandleReadyz(d.Orchestrator))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	v1.GET("/environment/status", NewEnvironmentHandler(d.Orchestrator).GetStatus)
	v1.GET("/transcriber/health", HandleTranscriberHealth(d.Degradation, d.Checker))
	return r
}
