package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"basegraph.app/intake/internal/http/handler"
	"basegraph.app/intake/internal/http/middleware"
	"basegraph.app/intake/internal/service"
)

type RouterConfig struct {
	TraceHeaderName string
	AdminAPIKey     string
	// Redis is nil when the queue runs in memory; the stream tail then answers 503.
	Redis        *redis.Client
	StreamPrefix string
	StreamBlock  time.Duration
}

func SetupRoutes(router *gin.Engine, services *service.Services, cfg RouterConfig) {
	statusHandler := handler.NewStatusHandler(services.Status())
	router.GET("/health", statusHandler.Health)
	router.GET("/ready", statusHandler.Ready)

	v1 := router.Group("/api/v1")
	{
		intakeHandler := handler.NewIntakeHandler(services.Intake(), cfg.TraceHeaderName)
		IntakeRouter(v1, intakeHandler, handler.NewClassifyHandler(services.Classification()))

		admin := middleware.RequireAdminAPIKey(cfg.AdminAPIKey)

		streamHandler := handler.NewQueueStreamHandler(cfg.Redis, cfg.StreamPrefix, cfg.StreamBlock)
		queueGroup := v1.Group("/queue")
		QueueRouter(queueGroup, statusHandler, streamHandler)
		QueueAdminRouter(queueGroup.Group("", admin), handler.NewQueueAdminHandler(services.QueueAdmin()))

		outbox := v1.Group("/outbox")
		outbox.Use(admin)
		OutboxRouter(outbox, handler.NewOutboxHandler(services.Outbox()))
	}
}
