package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"basegraph.app/intake/internal/http/dto"
	"basegraph.app/intake/internal/service"
	"basegraph.app/intake/internal/store"
)

type OutboxHandler struct {
	service service.OutboxService
}

func NewOutboxHandler(service service.OutboxService) *OutboxHandler {
	return &OutboxHandler{service: service}
}

func (h *OutboxHandler) DeadLetters(c *gin.Context) {
	ctx := c.Request.Context()

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	entries, err := h.service.DeadLetters(ctx, limit)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list dead letters", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list dead letters"})
		return
	}

	c.JSON(http.StatusOK, dto.DeadLettersResponse{Entries: entries, Count: len(entries)})
}

// Replay accepts an optional {"budget": n} body.
func (h *OutboxHandler) Replay(c *gin.Context) {
	ctx := c.Request.Context()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid outbox id"})
		return
	}

	var req dto.ReplayRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, err := h.service.Replay(ctx, id, req.Budget)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "outbox entry not found"})
		case errors.Is(err, service.ErrNotDeadLettered):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			slog.ErrorContext(ctx, "failed to replay outbox entry", "error", err, "outbox_id", id)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to replay outbox entry"})
		}
		return
	}

	c.JSON(http.StatusOK, entry)
}
