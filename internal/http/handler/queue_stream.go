package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"basegraph.app/intake/internal/queue"
)

const defaultStreamBlock = 25 * time.Second

// QueueStreamHandler tails a destination stream over server-sent events.
// It reads with XREAD, outside the consumer group, so watching never
// claims or acknowledges entries.
type QueueStreamHandler struct {
	redis  *redis.Client
	prefix string
	block  time.Duration
}

func NewQueueStreamHandler(redisClient *redis.Client, streamPrefix string, block time.Duration) *QueueStreamHandler {
	if block <= 0 {
		block = defaultStreamBlock
	}
	return &QueueStreamHandler{redis: redisClient, prefix: streamPrefix, block: block}
}

type streamEntry struct {
	ID            string `json:"id"`
	Kind          string `json:"kind"`
	EventID       string `json:"event_id,omitempty"`
	RoutedTo      string `json:"routed_to,omitempty"`
	OutboxID      int64  `json:"outbox_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func (h *QueueStreamHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()
	if h.redis == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue is not durable; streaming requires redis"})
		return
	}

	destination, err := queue.ParseDestination(c.Param("destination"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid destination"})
		return
	}

	stream := queue.StreamName(h.prefix, destination)
	lastID := c.Query("last_id")
	if lastID == "" {
		lastID = "$"
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	setSSEHeaders(c.Writer)
	c.Status(http.StatusOK)

	sseWrite(c.Writer, "ping", "ready")
	flusher.Flush()

	for {
		if ctx.Err() != nil {
			return
		}

		res, err := h.redis.XRead(ctx, &redis.XReadArgs{
			Streams: []string{stream, lastID},
			Block:   h.block,
			Count:   100,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				sseWrite(c.Writer, "ping", time.Now().UTC().Format(time.RFC3339Nano))
				flusher.Flush()
				continue
			}
			if ctx.Err() != nil {
				return
			}
			sseWrite(c.Writer, "error", map[string]string{"error": err.Error()})
			flusher.Flush()
			return
		}

		for _, streamRes := range res {
			for _, raw := range streamRes.Messages {
				lastID = raw.ID
				msg, err := queue.DecodeMessage(raw)
				if err != nil {
					sseWrite(c.Writer, "malformed", map[string]string{"id": raw.ID, "error": err.Error()})
					continue
				}
				sseWrite(c.Writer, string(msg.Kind), streamEntry{
					ID:            raw.ID,
					Kind:          string(msg.Kind),
					EventID:       msg.Event.ID,
					RoutedTo:      string(msg.Event.RoutedTo),
					OutboxID:      msg.OutboxID,
					CorrelationID: msg.CorrelationID,
				})
			}
		}
		flusher.Flush()
	}
}

func setSSEHeaders(w http.ResponseWriter) {
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
}

func sseWrite(w http.ResponseWriter, event string, data any) {
	payload := marshalPayload(data)
	if event != "" {
		_, _ = fmt.Fprintf(w, "event: %s\n", event)
	}
	for _, line := range strings.Split(payload, "\n") {
		_, _ = fmt.Fprintf(w, "data: %s\n", line)
	}
	_, _ = fmt.Fprint(w, "\n")
}

func marshalPayload(data any) string {
	switch payload := data.(type) {
	case string:
		return payload
	case []byte:
		return string(payload)
	default:
		bytes, err := json.Marshal(payload)
		if err != nil {
			return fmt.Sprintf("%v", data)
		}
		return string(bytes)
	}
}
