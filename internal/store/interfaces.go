package store

import (
	"context"
	"errors"

	"basegraph.app/intake/internal/model"
)

var (
	// ErrNotFound is returned when a requested entity does not exist
	ErrNotFound = errors.New("not found")
	// ErrTerminalState is returned when an update would move an outbox entry out of a state it may not leave.
	ErrTerminalState = errors.New("outbox entry is in a terminal state")
	// ErrDuplicate is returned when an outbox entry with the same causation, event type and destination exists.
	ErrDuplicate = errors.New("duplicate outbox entry")
)

// IntakeEventStore persists intake events. Only the classification fields and
// the processed flag change after Create.
type IntakeEventStore interface {
	Create(ctx context.Context, event *model.IntakeEvent) error
	// CreateOrGet returns the existing event when one with the same dedupe key exists.
	CreateOrGet(ctx context.Context, event *model.IntakeEvent) (*model.IntakeEvent, bool, error)
	GetByID(ctx context.Context, id string) (*model.IntakeEvent, error)
	UpdateClassification(ctx context.Context, event *model.IntakeEvent) error
	MarkProcessed(ctx context.Context, id string) error
	ListUnprocessed(ctx context.Context, limit int) ([]model.IntakeEvent, error)
}

// OutboxStore stages messages for the relay. Add must run inside the caller's
// transaction so the entry commits together with the state it describes.
type OutboxStore interface {
	Add(ctx context.Context, entry *model.OutboxEntry) error
	// GetPending returns PENDING and FAILED entries, oldest first.
	GetPending(ctx context.Context, limit int) ([]model.OutboxEntry, error)
	// Update persists status, retry bookkeeping and publish time. The stored
	// retry count never decreases, and entries in PUBLISHED or DEAD_LETTER
	// are only writable by a replay back to PENDING.
	Update(ctx context.Context, entry *model.OutboxEntry) error
	GetDeadLetters(ctx context.Context, limit int) ([]model.OutboxEntry, error)
	GetByID(ctx context.Context, id int64) (*model.OutboxEntry, error)
	CountByStatus(ctx context.Context) (map[model.OutboxStatus]int64, error)
}

// Provider exposes the stores available to a unit of work.
type Provider interface {
	IntakeEvents() IntakeEventStore
	Outbox() OutboxStore
}
