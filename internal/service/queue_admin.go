package service

import (
	"context"
	"fmt"
	"log/slog"

	"basegraph.app/intake/internal/queue"
)

// QueueDeadLetters is implemented by *queue.Router.
type QueueDeadLetters interface {
	DeadLetters(ctx context.Context, destination string, limit int64) ([]queue.DeadLetter, error)
	Requeue(ctx context.Context, destination, deadLetterID string) (string, error)
}

// QueueBackend is everything the services need from the queue router.
type QueueBackend interface {
	QueueStatus
	QueueDeadLetters
}

// QueueAdminService exposes entries the worker gave up on. Requeued entries
// are processed again from scratch; the worker skips events already marked
// processed.
type QueueAdminService interface {
	DeadLetters(ctx context.Context, destination string, limit int) ([]queue.DeadLetter, error)
	Requeue(ctx context.Context, destination, deadLetterID string) (string, error)
}

type queueAdminService struct {
	queues QueueDeadLetters
}

func NewQueueAdminService(queues QueueDeadLetters) QueueAdminService {
	return &queueAdminService{queues: queues}
}

func (s *queueAdminService) DeadLetters(ctx context.Context, destination string, limit int) ([]queue.DeadLetter, error) {
	switch {
	case limit <= 0:
		limit = defaultDeadLetterLimit
	case limit > maxDeadLetterLimit:
		limit = maxDeadLetterLimit
	}
	entries, err := s.queues.DeadLetters(ctx, destination, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("listing queue dead letters (destination=%s): %w", destination, err)
	}
	return entries, nil
}

func (s *queueAdminService) Requeue(ctx context.Context, destination, deadLetterID string) (string, error) {
	id, err := s.queues.Requeue(ctx, destination, deadLetterID)
	if err != nil {
		return "", fmt.Errorf("requeueing %s (destination=%s): %w", deadLetterID, destination, err)
	}
	slog.InfoContext(ctx, "queue dead letter requeued",
		"destination", destination,
		"dead_letter_id", deadLetterID,
		"message_id", id)
	return id, nil
}
