package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"basegraph.app/intake/internal/model"
)

var (
	ErrBackendUnavailable = errors.New("durable queue backend unavailable")
	ErrMalformedMessage   = errors.New("malformed queue message")
	ErrDeadLetterNotFound = errors.New("dead letter not found")
)

// Mode is chosen once at startup and never changes for the life of the process.
type Mode string

const (
	ModeDurable   Mode = "durable"
	ModeEphemeral Mode = "ephemeral"
)

func ParseMode(raw string) (Mode, error) {
	m := Mode(raw)
	switch m {
	case ModeDurable, ModeEphemeral:
		return m, nil
	default:
		return "", fmt.Errorf("%w: queue mode %q", model.ErrUnknownValue, raw)
	}
}

// Message is one queue entry. ID is assigned by the backend on Push.
type Message struct {
	ID            string
	Kind          model.OutboxEventType
	Event         model.IntakeEvent
	OutboxID      int64
	CorrelationID string
	TraceID       string
}

// EventQueue is an append-only log with at-least-once delivery: an entry
// stays visible to ReadPending until it is acknowledged.
type EventQueue interface {
	Push(ctx context.Context, msg Message) (string, error)
	ReadPending(ctx context.Context, consumer string, count int64, block time.Duration) ([]Message, error)
	Acknowledge(ctx context.Context, id string) (bool, error)
	Stats(ctx context.Context) (Stats, error)
	Name() string

	// DeadLetter sets an entry aside after repeated processing failures. The
	// entry is copied to the dead-letter stream and acknowledged in one step,
	// so it is never both gone from the queue and missing from the dead letters.
	DeadLetter(ctx context.Context, msg Message, reason string) error
	// DeadLetters lists dead-lettered entries, oldest first. limit <= 0 means all.
	DeadLetters(ctx context.Context, limit int64) ([]DeadLetter, error)
	// Requeue pushes a dead letter back onto the queue and removes it from the
	// dead-letter stream, returning the new entry id.
	Requeue(ctx context.Context, deadLetterID string) (string, error)
}

// DeadLetter is a queue entry that exhausted its processing attempts.
// Message.ID is the id the entry had on the queue.
type DeadLetter struct {
	ID       string
	Message  Message
	Reason   string
	FailedAt time.Time
}

// Reclaimer is implemented by backends that track per-consumer ownership and
// can move stale entries to a live consumer.
type Reclaimer interface {
	Reclaim(ctx context.Context, consumer string, minIdle time.Duration, count int64) ([]Message, error)
}

type Stats struct {
	Stream         string `json:"stream"`
	Backend        string `json:"backend"`
	Mode           Mode   `json:"mode"`
	Durable        bool   `json:"durable"`
	Degraded       bool   `json:"degraded"`
	DegradedReason string `json:"degraded_reason,omitempty"`
	Length         int64  `json:"length"`
	Pending        int64  `json:"pending"`
	MaxLen         int64  `json:"max_len"`
	DeadLettered   int64  `json:"dead_lettered"`
}

// IntakeDestination is the destination of freshly ingested events; the worker consumes it.
const IntakeDestination = "intake"

// DeadLetterStreamName is the stream holding stream's dead letters. Destinations
// cannot contain ':' so it never collides with a destination stream.
func DeadLetterStreamName(stream string) string {
	return stream + ":dlq"
}

// StreamName maps an outbox destination to its stream key.
func StreamName(prefix, destination string) string {
	if prefix == "" {
		return destination
	}
	return prefix + ":" + destination
}
