package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/intake/internal/http/handler"
)

func OutboxRouter(rg *gin.RouterGroup, h *handler.OutboxHandler) {
	rg.GET("/dead-letters", h.DeadLetters)
	rg.POST("/:id/replay", h.Replay)
}
