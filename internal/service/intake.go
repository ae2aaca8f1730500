package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"basegraph.app/intake/common/id"
	"basegraph.app/intake/internal/model"
	"basegraph.app/intake/internal/queue"
)

// MaxContentRunes bounds the size of a single intake event.
const MaxContentRunes = 20000

var ErrInvalidInput = errors.New("invalid input")

type IngestParams struct {
	Content       string         `json:"content"`
	EventType     string         `json:"event_type,omitempty"`
	ContentType   string         `json:"content_type,omitempty"`
	Timestamp     *time.Time     `json:"timestamp,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Source        string         `json:"source,omitempty"`
	ExternalID    *string        `json:"external_id,omitempty"`
	DedupeKey     *string        `json:"dedupe_key,omitempty"`
	CorrelationID *string        `json:"correlation_id,omitempty"`

	TraceID *string `json:"trace_id,omitempty"`
}

type IngestResult struct {
	Event      *model.IntakeEvent
	OutboxID   int64 // zero when the event was a duplicate
	DedupeKey  string
	Duplicated bool
}

type IntakeService interface {
	Ingest(ctx context.Context, params IngestParams) (*IngestResult, error)
}

type intakeService struct {
	txRunner   TxRunner
	maxRetries int
	logger     *slog.Logger
}

func NewIntakeService(txRunner TxRunner, maxRetries int, logger *slog.Logger) IntakeService {
	if logger == nil {
		logger = slog.Default()
	}
	return &intakeService{
		txRunner:   txRunner,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// Ingest stores the event and stages its outbox entry in one transaction, so
// an event is never persisted without being queued for classification.
// Duplicates (same dedupe key) return the original event and stage nothing.
func (s *intakeService) Ingest(ctx context.Context, params IngestParams) (*IngestResult, error) {
	event, err := newIntakeEvent(params)
	if err != nil {
		return nil, err
	}

	dedupeKey, err := computeDedupeKey(params.Source, event, params.ExternalID, params.DedupeKey)
	if err != nil {
		return nil, err
	}
	event.DedupeKey = &dedupeKey

	var (
		stored   *model.IntakeEvent
		created  bool
		outboxID int64
	)

	err = s.txRunner.WithTx(ctx, func(sp StoreProvider) error {
		var err error
		stored, created, err = sp.IntakeEvents().CreateOrGet(ctx, event)
		if err != nil {
			return fmt.Errorf("creating intake event: %w", err)
		}
		if !created {
			return nil
		}

		entry, err := model.NewOutboxEntry(id.New(), model.OutboxEventIntakeReceived, queue.IntakeDestination, stored, s.maxRetries)
		if err != nil {
			return fmt.Errorf("building outbox entry: %w", err)
		}
		correlationID := stored.ID
		if params.CorrelationID != nil && *params.CorrelationID != "" {
			correlationID = *params.CorrelationID
		}
		entry.CorrelationID = &correlationID
		entry.CausationID = &stored.ID

		if err := sp.Outbox().Add(ctx, entry); err != nil {
			return fmt.Errorf("staging outbox entry: %w", err)
		}
		outboxID = entry.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !created {
		s.logger.InfoContext(ctx, "duplicate intake event deduped", "event_id", stored.ID, "dedupe_key", dedupeKey)
	} else {
		s.logger.InfoContext(ctx, "intake event accepted",
			"event_id", stored.ID,
			"outbox_id", outboxID,
			"event_type", stored.Type)
	}

	return &IngestResult{
		Event:      stored,
		OutboxID:   outboxID,
		DedupeKey:  dedupeKey,
		Duplicated: !created,
	}, nil
}

func newIntakeEvent(params IngestParams) (*model.IntakeEvent, error) {
	content := strings.TrimSpace(params.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(content) > MaxContentRunes {
		return nil, fmt.Errorf("%w: content exceeds %d characters", ErrInvalidInput, MaxContentRunes)
	}

	eventType := model.EventTypeMessage
	if params.EventType != "" {
		t, err := model.ParseEventType(params.EventType)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		eventType = t
	}

	contentType := model.ContentTypeText
	if params.ContentType != "" {
		t, err := model.ParseContentType(params.ContentType)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		contentType = t
	}

	ts := time.Now().UTC()
	if params.Timestamp != nil && !params.Timestamp.IsZero() {
		ts = params.Timestamp.UTC()
	}

	metadata := make(map[string]any, len(params.Metadata)+2)
	for k, v := range params.Metadata {
		metadata[k] = v
	}
	if params.Source != "" {
		metadata["source"] = params.Source
	}
	if params.TraceID != nil && *params.TraceID != "" {
		metadata["trace_id"] = *params.TraceID
	}

	return &model.IntakeEvent{
		ID:             id.NewString(),
		Type:           eventType,
		Timestamp:      ts,
		Content:        content,
		ContentType:    contentType,
		ProductSignals: []string{},
		Metadata:       metadata,
	}, nil
}

// computeDedupeKey prefers an explicit key, then the source's own event id,
// then a hash of the content and timestamp. Without a client timestamp the
// hash is unique per request, so only retries that resend it are deduped.
func computeDedupeKey(source string, event *model.IntakeEvent, externalID *string, override *string) (string, error) {
	if override != nil && *override != "" {
		return *override, nil
	}

	if source == "" {
		source = "api"
	}

	if externalID != nil && *externalID != "" {
		return fmt.Sprintf("%s:%s:%s", source, event.Type, *externalID), nil
	}

	body := struct {
		Source    string          `json:"source"`
		EventType model.EventType `json:"event_type"`
		Content   string          `json:"content"`
		Timestamp time.Time       `json:"timestamp"`
	}{
		Source:    source,
		EventType: event.Type,
		Content:   event.Content,
		Timestamp: event.Timestamp,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal dedupe payload: %w", err)
	}

	hash := sha256.Sum256(data)
	return fmt.Sprintf("%s:%s", source, hex.EncodeToString(hash[:])), nil
}
