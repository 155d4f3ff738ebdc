package handler

import (
	"errors"
	"net/http"

	"Parley/internal/hub"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MonitorHandler serves gateway introspection and the websocket upgrade.
type MonitorHandler interface {
	GetHubStats(c *gin.Context)
	Health(c *gin.Context)
	ServeSocket(c *gin.Context)
}

type monitorHandler struct {
	hub    *hub.Hub
	stats  *hub.MonitorService
	logger *zap.Logger
}

func NewMonitorHandler(h *hub.Hub, logger *zap.Logger) MonitorHandler {
	return &monitorHandler{hub: h, stats: hub.NewMonitorService(h), logger: logger}
}

// GetHubStats reports connected views, open conversations and live
// subscriptions.
// @Router /api/monitor/stats [get]
func (h *monitorHandler) GetHubStats(c *gin.Context) {
	ok(c, h.stats.GetStats(), "Hub statistics retrieved successfully")
}

func (h *monitorHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "views": h.hub.ClientCount()})
}

// ServeSocket upgrades /ws?token= into a view. The upgrader has already
// answered the request when the upgrade itself fails.
func (h *monitorHandler) ServeSocket(c *gin.Context) {
	err := h.hub.ServeWS(c.Writer, c.Request, bearerToken(c))
	if errors.Is(err, hub.ErrUnauthorized) {
		abort(c, http.StatusUnauthorized, err.Error())
		return
	}
	if err != nil {
		h.logger.Debug("socket not served", zap.Error(err))
	}
}
