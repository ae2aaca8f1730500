package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// OutboxStatus is the lifecycle state of an outbox entry.
//
//	PENDING --publish ok--> PUBLISHED
//	PENDING --publish fails--> FAILED --publish ok--> PUBLISHED
//	FAILED  --retry_count >= max_retries--> DEAD_LETTER
//	DEAD_LETTER --manual replay--> PENDING
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "PENDING"
	OutboxStatusPublished  OutboxStatus = "PUBLISHED"
	OutboxStatusFailed     OutboxStatus = "FAILED"
	OutboxStatusDeadLetter OutboxStatus = "DEAD_LETTER"
)

const DefaultMaxRetries = 3

func ParseOutboxStatus(raw string) (OutboxStatus, error) {
	s := OutboxStatus(raw)
	switch s {
	case OutboxStatusPending, OutboxStatusPublished, OutboxStatusFailed, OutboxStatusDeadLetter:
		return s, nil
	default:
		return "", fmt.Errorf("%w: outbox status %q", ErrUnknownValue, raw)
	}
}

// IsTerminal reports whether the relay must never touch an entry in this state again.
func (s OutboxStatus) IsTerminal() bool {
	switch s {
	case OutboxStatusPublished, OutboxStatusDeadLetter:
		return true
	case OutboxStatusPending, OutboxStatusFailed:
		return false
	default:
		return false
	}
}

// CanTransitionTo reports whether a stored entry in state s may be
// overwritten with state next.
func (s OutboxStatus) CanTransitionTo(next OutboxStatus) bool {
	for _, from := range next.Predecessors() {
		if from == s {
			return true
		}
	}
	return false
}

// Predecessors lists the states an entry may be in before moving to s.
func (s OutboxStatus) Predecessors() []OutboxStatus {
	switch s {
	case OutboxStatusPublished, OutboxStatusFailed, OutboxStatusDeadLetter:
		return []OutboxStatus{OutboxStatusPending, OutboxStatusFailed}
	case OutboxStatusPending:
		return []OutboxStatus{OutboxStatusDeadLetter}
	default:
		return nil
	}
}

// Deliverable reports whether the relay should attempt to publish an entry in this state.
func (s OutboxStatus) Deliverable() bool {
	return s == OutboxStatusPending || s == OutboxStatusFailed
}

// OutboxEventType names the kind of payload an outbox entry carries.
type OutboxEventType string

const (
	// OutboxEventIntakeReceived carries a freshly captured IntakeEvent to the intake queue.
	OutboxEventIntakeReceived OutboxEventType = "intake.received"
	// OutboxEventIntakeClassified carries a classified IntakeEvent to its routed destination.
	OutboxEventIntakeClassified OutboxEventType = "intake.classified"
)

func ParseOutboxEventType(raw string) (OutboxEventType, error) {
	t := OutboxEventType(raw)
	switch t {
	case OutboxEventIntakeReceived, OutboxEventIntakeClassified:
		return t, nil
	default:
		return "", fmt.Errorf("%w: outbox event type %q", ErrUnknownValue, raw)
	}
}

// OutboxEntry is a staged message written in the same transaction as the
// business state it describes and later published by the relay.
// RetryCount never decreases.
type OutboxEntry struct {
	ID            int64           `json:"id"`
	CreatedAt     time.Time       `json:"created_at"`
	EventType     OutboxEventType `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Destination   string          `json:"destination"`
	Status        OutboxStatus    `json:"status"`
	RetryCount    int             `json:"retry_count"`
	MaxRetries    int             `json:"max_retries"`
	LastError     *string         `json:"last_error,omitempty"`
	PublishedAt   *time.Time      `json:"published_at,omitempty"`
	CorrelationID *string         `json:"correlation_id,omitempty"`
	CausationID   *string         `json:"causation_id,omitempty"`
}

// NewOutboxEntry builds a PENDING entry with payload marshalled to JSON.
func NewOutboxEntry(id int64, eventType OutboxEventType, destination string, payload any, maxRetries int) (*OutboxEntry, error) {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return nil, fmt.Errorf("outbox destination is required")
	}
	if payload == nil {
		return nil, ErrPayloadRequired
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal outbox payload: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	return &OutboxEntry{
		ID:          id,
		CreatedAt:   time.Now().UTC(),
		EventType:   eventType,
		Payload:     data,
		Destination: destination,
		Status:      OutboxStatusPending,
		MaxRetries:  maxRetries,
	}, nil
}

// MarkPublished records a successful publish.
func (e *OutboxEntry) MarkPublished(at time.Time) error {
	if !e.Status.Deliverable() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, OutboxStatusPublished)
	}
	at = at.UTC()
	e.Status = OutboxStatusPublished
	e.PublishedAt = &at
	return nil
}

// MarkFailed records a failed publish attempt. The entry becomes DEAD_LETTER
// once RetryCount reaches MaxRetries, FAILED otherwise.
func (e *OutboxEntry) MarkFailed(errMsg string) error {
	if !e.Status.Deliverable() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, OutboxStatusFailed)
	}
	e.RetryCount++
	e.LastError = &errMsg
	if e.RetryCount >= e.MaxRetries {
		e.Status = OutboxStatusDeadLetter
		return nil
	}
	e.Status = OutboxStatusFailed
	return nil
}

// Replay moves a dead-lettered entry back to PENDING and grants it budget more
// attempts. RetryCount is kept, so the budget is added to MaxRetries instead.
func (e *OutboxEntry) Replay(budget int) error {
	if e.Status != OutboxStatusDeadLetter {
		return fmt.Errorf("%w: %s -> %s (replay)", ErrInvalidTransition, e.Status, OutboxStatusPending)
	}
	if budget <= 0 {
		budget = DefaultMaxRetries
	}
	e.Status = OutboxStatusPending
	e.MaxRetries = e.RetryCount + budget
	return nil
}

// DecodePayload unmarshals the entry payload into v.
func (e *OutboxEntry) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return ErrPayloadRequired
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode outbox payload (id=%d): %w", e.ID, err)
	}
	return nil
}

// Clone returns a deep copy; in-memory stores hand out clones so callers
// cannot mutate stored state without going through Update.
func (e *OutboxEntry) Clone() *OutboxEntry {
	c := *e
	c.Payload = append(json.RawMessage(nil), e.Payload...)
	if e.LastError != nil {
		v := *e.LastError
		c.LastError = &v
	}
	if e.PublishedAt != nil {
		v := *e.PublishedAt
		c.PublishedAt = &v
	}
	if e.CorrelationID != nil {
		v := *e.CorrelationID
		c.CorrelationID = &v
	}
	if e.CausationID != nil {
		v := *e.CausationID
		c.CausationID = &v
	}
	return &c
}
