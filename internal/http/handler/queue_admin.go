package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"basegraph.app/intake/internal/http/dto"
	"basegraph.app/intake/internal/queue"
	"basegraph.app/intake/internal/service"
)

type QueueAdminHandler struct {
	service service.QueueAdminService
}

func NewQueueAdminHandler(service service.QueueAdminService) *QueueAdminHandler {
	return &QueueAdminHandler{service: service}
}

func (h *QueueAdminHandler) DeadLetters(c *gin.Context) {
	ctx := c.Request.Context()

	destination, err := queue.ParseDestination(c.Param("destination"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid destination"})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	entries, err := h.service.DeadLetters(ctx, destination, limit)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list queue dead letters", "error", err, "destination", destination)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list queue dead letters"})
		return
	}

	resp := dto.QueueDeadLettersResponse{
		Destination: destination,
		Entries:     make([]dto.QueueDeadLetter, 0, len(entries)),
		Count:       len(entries),
	}
	for _, d := range entries {
		resp.Entries = append(resp.Entries, dto.QueueDeadLetter{
			ID:            d.ID,
			MessageID:     d.Message.ID,
			Kind:          string(d.Message.Kind),
			EventID:       d.Message.Event.ID,
			OutboxID:      d.Message.OutboxID,
			CorrelationID: d.Message.CorrelationID,
			Reason:        d.Reason,
			FailedAt:      d.FailedAt,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (h *QueueAdminHandler) Requeue(c *gin.Context) {
	ctx := c.Request.Context()

	destination, err := queue.ParseDestination(c.Param("destination"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid destination"})
		return
	}
	deadLetterID := c.Param("id")

	messageID, err := h.service.Requeue(ctx, destination, deadLetterID)
	if err != nil {
		if errors.Is(err, queue.ErrDeadLetterNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "dead letter not found"})
			return
		}
		slog.ErrorContext(ctx, "failed to requeue dead letter", "error", err, "destination", destination, "dead_letter_id", deadLetterID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to requeue dead letter"})
		return
	}

	c.JSON(http.StatusOK, dto.RequeueResponse{DeadLetterID: deadLetterID, MessageID: messageID})
}
