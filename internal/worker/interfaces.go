package worker

import (
	"context"

	"basegraph.app/intake/internal/model"
	"basegraph.app/intake/internal/queue"
	"basegraph.app/intake/internal/store"
)

// Mirrors service.TxRunner - defined here to avoid import cycles.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(stores store.Provider) error) error
}

// EventClassifier annotates an intake event in place. Implementations never fail.
type EventClassifier interface {
	ClassifyEvent(ctx context.Context, event *model.IntakeEvent) *model.IntakeClassificationResult
}

// Publisher pushes a message onto a destination's queue.
type Publisher interface {
	Publish(ctx context.Context, destination string, msg queue.Message) (string, error)
}

// MessageProcessor handles one queue message; the reclaimer hands it stale entries.
type MessageProcessor func(ctx context.Context, msg queue.Message) error
