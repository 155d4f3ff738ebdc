package approuters

import (
	"Parley/internal/configuration"

	"github.com/gin-gonic/gin"
)

// MonitorRouters sets up monitoring and socket routes
func MonitorRouters(router *gin.Engine, container *configuration.Container) {
	monitorHandler := container.MonitorHandler

	router.GET("/health", monitorHandler.Health)
	router.GET("/metrics", gin.WrapH(container.Metrics.Handler()))
	router.GET("/ws", monitorHandler.ServeSocket)

	// Monitor API group
	monitorGroup := router.Group("/api/monitor")
	{
		// GET /api/monitor/stats - Get hub statistics
		monitorGroup.GET("/stats", monitorHandler.GetHubStats)
	}
}
