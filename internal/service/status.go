package service

import (
	"context"
	"fmt"

	"basegraph.app/intake/internal/model"
	"basegraph.app/intake/internal/queue"
)

// QueueStatus is implemented by *queue.Router.
type QueueStatus interface {
	Health() queue.Health
	Stats(ctx context.Context) ([]queue.Stats, error)
}

type QueueReport struct {
	Health  queue.Health                 `json:"health"`
	Streams []queue.Stats                `json:"streams"`
	Outbox  map[model.OutboxStatus]int64 `json:"outbox"`
}

type StatusService interface {
	Health() queue.Health
	Report(ctx context.Context) (*QueueReport, error)
}

type statusService struct {
	queues QueueStatus
	outbox OutboxService
}

func NewStatusService(queues QueueStatus, outbox OutboxService) StatusService {
	return &statusService{queues: queues, outbox: outbox}
}

func (s *statusService) Health() queue.Health {
	return s.queues.Health()
}

func (s *statusService) Report(ctx context.Context) (*QueueReport, error) {
	streams, err := s.queues.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	counts, err := s.outbox.Counts(ctx)
	if err != nil {
		return nil, err
	}
	return &QueueReport{
		Health:  s.queues.Health(),
		Streams: streams,
		Outbox:  counts,
	}, nil
}
