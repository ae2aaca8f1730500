package model

import (
	"fmt"
	"time"
)

// EventType identifies what kind of input produced an intake event.
type EventType string

const (
	EventTypeMessage   EventType = "message"
	EventTypeEmail     EventType = "email"
	EventTypeNote      EventType = "note"
	EventTypeVoiceMemo EventType = "voice_memo"
)

func ParseEventType(raw string) (EventType, error) {
	t := EventType(raw)
	switch t {
	case EventTypeMessage, EventTypeEmail, EventTypeNote, EventTypeVoiceMemo:
		return t, nil
	default:
		return "", fmt.Errorf("%w: event type %q", ErrUnknownValue, raw)
	}
}

type ContentType string

const (
	ContentTypeText       ContentType = "text"
	ContentTypeMarkdown   ContentType = "markdown"
	ContentTypeHTML       ContentType = "html"
	ContentTypeTranscript ContentType = "transcript"
)

func ParseContentType(raw string) (ContentType, error) {
	t := ContentType(raw)
	switch t {
	case ContentTypeText, ContentTypeMarkdown, ContentTypeHTML, ContentTypeTranscript:
		return t, nil
	default:
		return "", fmt.Errorf("%w: content type %q", ErrUnknownValue, raw)
	}
}

// IntakeEvent is a single captured input moving through the pipeline.
// Only the classification fields are written after creation, and Processed
// only ever moves from false to true.
type IntakeEvent struct {
	ID               string         `json:"event_id"`
	Type             EventType      `json:"event_type"`
	Timestamp        time.Time      `json:"timestamp"`
	Content          string         `json:"content"`
	ContentType      ContentType    `json:"content_type"`
	Domain           Domain         `json:"domain,omitempty"`
	Priority         Priority       `json:"priority,omitempty"`
	Category         string         `json:"category,omitempty"`
	ProductPotential float64        `json:"product_potential"`
	ProductSignals   []string       `json:"product_signals"`
	RoutedTo         Route          `json:"routed_to,omitempty"`
	Processed        bool           `json:"processed"`
	Metadata         map[string]any `json:"metadata"`
	DedupeKey        *string        `json:"dedupe_key,omitempty"`
}

// Classified reports whether the classifier has annotated the event.
func (e *IntakeEvent) Classified() bool {
	return e.Domain != "" && e.RoutedTo != ""
}

// ApplyClassification copies the classification fields of result onto the event.
func (e *IntakeEvent) ApplyClassification(result *IntakeClassificationResult) {
	e.Domain = result.Domain.Domain
	e.Priority = result.Priority
	e.Category = result.Domain.SubCategory
	e.ProductPotential = result.Product.Score
	e.ProductSignals = append([]string(nil), result.Product.Signals...)
	e.RoutedTo = result.RouteTo
}

// Clone returns a copy that shares no slices or maps with e.
func (e *IntakeEvent) Clone() *IntakeEvent {
	c := *e
	c.ProductSignals = append([]string(nil), e.ProductSignals...)
	if e.Metadata != nil {
		c.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	if e.DedupeKey != nil {
		v := *e.DedupeKey
		c.DedupeKey = &v
	}
	return &c
}

// MetadataString returns metadata[key] when it is a non-empty string.
func (e *IntakeEvent) MetadataString(key string) string {
	if e.Metadata == nil {
		return ""
	}
	if v, ok := e.Metadata[key].(string); ok {
		return v
	}
	return ""
}
