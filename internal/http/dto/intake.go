package dto

import (
	"time"

	"basegraph.app/intake/internal/model"
)

type IngestRequest struct {
	Content       string         `json:"content" binding:"required"`
	EventType     string         `json:"event_type,omitempty"`
	ContentType   string         `json:"content_type,omitempty"`
	Timestamp     *time.Time     `json:"timestamp,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Source        string         `json:"source,omitempty"`
	ExternalID    *string        `json:"external_id,omitempty"`
	DedupeKey     *string        `json:"dedupe_key,omitempty"`
	CorrelationID *string        `json:"correlation_id,omitempty"`
}

type IngestResponse struct {
	EventID    string `json:"event_id"`
	OutboxID   int64  `json:"outbox_id,omitempty"`
	DedupeKey  string `json:"dedupe_key"`
	Duplicated bool   `json:"duplicated"`
}

type ClassifyRequest struct {
	Text    string `json:"text"`
	Context string `json:"context,omitempty"`
}

type ReplayRequest struct {
	Budget int `json:"budget,omitempty" binding:"gte=0"`
}

type DeadLettersResponse struct {
	Entries []model.OutboxEntry `json:"entries"`
	Count   int                 `json:"count"`
}

type QueueDeadLetter struct {
	ID            string    `json:"id"`
	MessageID     string    `json:"message_id"`
	Kind          string    `json:"kind"`
	EventID       string    `json:"event_id"`
	OutboxID      int64     `json:"outbox_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Reason        string    `json:"reason"`
	FailedAt      time.Time `json:"failed_at"`
}

type QueueDeadLettersResponse struct {
	Destination string            `json:"destination"`
	Entries     []QueueDeadLetter `json:"entries"`
	Count       int               `json:"count"`
}

type RequeueResponse struct {
	DeadLetterID string `json:"dead_letter_id"`
	MessageID    string `json:"message_id"`
}
