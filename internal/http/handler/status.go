package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"basegraph.app/intake/internal/service"
)

type StatusHandler struct {
	service service.StatusService
}

func NewStatusHandler(service service.StatusService) *StatusHandler {
	return &StatusHandler{service: service}
}

func (h *StatusHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready reports the queue mode; a fallback to the in-memory queue is not ready.
func (h *StatusHandler) Ready(c *gin.Context) {
	health := h.service.Health()
	status := http.StatusOK
	if health.Degraded {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, health)
}

func (h *StatusHandler) QueueStats(c *gin.Context) {
	ctx := c.Request.Context()

	report, err := h.service.Report(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to collect queue stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to collect queue stats"})
		return
	}
	c.JSON(http.StatusOK, report)
}
