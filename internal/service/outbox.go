package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"basegraph.app/intake/internal/model"
	"basegraph.app/intake/internal/store"
)

const (
	defaultDeadLetterLimit = 50
	maxDeadLetterLimit     = 500
)

// ErrNotDeadLettered is returned when replaying an entry that is not in DEAD_LETTER.
var ErrNotDeadLettered = errors.New("outbox entry is not dead-lettered")

type OutboxService interface {
	DeadLetters(ctx context.Context, limit int) ([]model.OutboxEntry, error)
	// Replay moves a dead-lettered entry back to PENDING with budget more
	// attempts. retry_count is preserved. budget <= 0 uses the configured default.
	Replay(ctx context.Context, id int64, budget int) (*model.OutboxEntry, error)
	Counts(ctx context.Context) (map[model.OutboxStatus]int64, error)
}

type outboxService struct {
	outbox        store.OutboxStore
	txRunner      TxRunner
	defaultBudget int
}

func NewOutboxService(outbox store.OutboxStore, txRunner TxRunner, defaultBudget int) OutboxService {
	return &outboxService{
		outbox:        outbox,
		txRunner:      txRunner,
		defaultBudget: defaultBudget,
	}
}

func (s *outboxService) DeadLetters(ctx context.Context, limit int) ([]model.OutboxEntry, error) {
	switch {
	case limit <= 0:
		limit = defaultDeadLetterLimit
	case limit > maxDeadLetterLimit:
		limit = maxDeadLetterLimit
	}
	entries, err := s.outbox.GetDeadLetters(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing dead letters: %w", err)
	}
	return entries, nil
}

func (s *outboxService) Replay(ctx context.Context, id int64, budget int) (*model.OutboxEntry, error) {
	if budget <= 0 {
		budget = s.defaultBudget
	}

	var replayed *model.OutboxEntry
	err := s.txRunner.WithTx(ctx, func(sp StoreProvider) error {
		entry, err := sp.Outbox().GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := entry.Replay(budget); err != nil {
			return fmt.Errorf("%w: %w", ErrNotDeadLettered, err)
		}
		if err := sp.Outbox().Update(ctx, entry); err != nil {
			return fmt.Errorf("updating outbox entry: %w", err)
		}
		replayed = entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "dead-lettered outbox entry replayed",
		"outbox_id", id,
		"retry_count", replayed.RetryCount,
		"max_retries", replayed.MaxRetries)
	return replayed, nil
}

func (s *outboxService) Counts(ctx context.Context) (map[model.OutboxStatus]int64, error) {
	counts, err := s.outbox.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting outbox entries: %w", err)
	}
	return counts, nil
}
