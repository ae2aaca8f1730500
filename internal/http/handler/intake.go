package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"basegraph.app/intake/internal/http/dto"
	"basegraph.app/intake/internal/service"
)

type IntakeHandler struct {
	service     service.IntakeService
	traceHeader string
}

func NewIntakeHandler(service service.IntakeService, traceHeader string) *IntakeHandler {
	return &IntakeHandler{
		service:     service,
		traceHeader: traceHeader,
	}
}

func (h *IntakeHandler) Ingest(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid intake request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	params := service.IngestParams{
		Content:       req.Content,
		EventType:     req.EventType,
		ContentType:   req.ContentType,
		Timestamp:     req.Timestamp,
		Metadata:      req.Metadata,
		Source:        req.Source,
		ExternalID:    req.ExternalID,
		DedupeKey:     req.DedupeKey,
		CorrelationID: req.CorrelationID,
	}
	if traceID := h.traceID(c); traceID != "" {
		params.TraceID = &traceID
	}

	result, err := h.service.Ingest(ctx, params)
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slog.ErrorContext(ctx, "failed to ingest event", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to ingest event"})
		return
	}

	c.JSON(http.StatusAccepted, dto.IngestResponse{
		EventID:    result.Event.ID,
		OutboxID:   result.OutboxID,
		DedupeKey:  result.DedupeKey,
		Duplicated: result.Duplicated,
	})
}

func (h *IntakeHandler) traceID(c *gin.Context) string {
	if h.traceHeader != "" {
		if traceID := c.GetHeader(h.traceHeader); traceID != "" {
			return traceID
		}
	}
	if spanCtx := trace.SpanContextFromContext(c.Request.Context()); spanCtx.IsValid() {
		return spanCtx.TraceID().String()
	}
	return ""
}
