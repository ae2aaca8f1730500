package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Fields flow through context enrichment, so business identifiers (event_id, outbox_id, ...)
// appear on every log line of a unit of work without being passed explicitly.
type LogFields struct {
	EventID     *string // Intake event ID
	OutboxID    *int64  // Outbox entry ID
	MessageID   *string // Queue entry ID (Redis stream ID or in-memory sequence)
	Destination *string // Outbox destination / queue name
	Consumer    *string // Queue consumer name
	Component   string  // Component name (OTel semantic convention style, e.g., "intake.worker.relay")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, next LogFields) LogFields {
	result := existing

	if next.EventID != nil {
		result.EventID = next.EventID
	}
	if next.OutboxID != nil {
		result.OutboxID = next.OutboxID
	}
	if next.MessageID != nil {
		result.MessageID = next.MessageID
	}
	if next.Destination != nil {
		result.Destination = next.Destination
	}
	if next.Consumer != nil {
		result.Consumer = next.Consumer
	}
	if next.Component != "" {
		result.Component = next.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{EventID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate shortens s to at most maxLen runes, appending "..." if truncated.
// Rune-based so Hebrew text is never cut mid-character.
func Truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
