package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/intake/internal/http/handler"
)

func QueueRouter(rg *gin.RouterGroup, status *handler.StatusHandler, stream *handler.QueueStreamHandler) {
	rg.GET("/stats", status.QueueStats)
	rg.GET("/:destination/stream", stream.Stream)
}

// QueueAdminRouter expects rg to carry the admin key middleware.
func QueueAdminRouter(rg *gin.RouterGroup, h *handler.QueueAdminHandler) {
	rg.GET("/:destination/dead-letters", h.DeadLetters)
	rg.POST("/:destination/dead-letters/:id/requeue", h.Requeue)
}
