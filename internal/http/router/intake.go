package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/intake/internal/http/handler"
)

func IntakeRouter(rg *gin.RouterGroup, intake *handler.IntakeHandler, classify *handler.ClassifyHandler) {
	rg.POST("/intake", intake.Ingest)
	rg.POST("/classify", classify.Classify)
}
