package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"basegraph.app/intake/internal/http/dto"
	"basegraph.app/intake/internal/service"
)

type ClassifyHandler struct {
	service service.ClassificationService
}

func NewClassifyHandler(service service.ClassificationService) *ClassifyHandler {
	return &ClassifyHandler{service: service}
}

// Classify runs the cascade inline. Nothing is persisted.
func (h *ClassifyHandler) Classify(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.ClassifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid classify request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.Classify(ctx, service.ClassifyParams{Text: req.Text, Context: req.Context})
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slog.ErrorContext(ctx, "classification failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "classification failed"})
		return
	}

	c.JSON(http.StatusOK, result)
}
