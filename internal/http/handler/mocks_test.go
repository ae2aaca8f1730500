package handler_test

import (
	"context"

	"basegraph.app/intake/internal/model"
	"basegraph.app/intake/internal/queue"
	"basegraph.app/intake/internal/service"
)

type mockIntakeService struct {
	ingestFn func(ctx context.Context, params service.IngestParams) (*service.IngestResult, error)
}

func (m *mockIntakeService) Ingest(ctx context.Context, params service.IngestParams) (*service.IngestResult, error) {
	if m.ingestFn != nil {
		return m.ingestFn(ctx, params)
	}
	return nil, nil
}

type mockClassificationService struct {
	classifyFn func(ctx context.Context, params service.ClassifyParams) (*model.IntakeClassificationResult, error)
}

func (m *mockClassificationService) Classify(ctx context.Context, params service.ClassifyParams) (*model.IntakeClassificationResult, error) {
	if m.classifyFn != nil {
		return m.classifyFn(ctx, params)
	}
	return nil, nil
}

type mockOutboxService struct {
	deadLettersFn func(ctx context.Context, limit int) ([]model.OutboxEntry, error)
	replayFn      func(ctx context.Context, id int64, budget int) (*model.OutboxEntry, error)
}

func (m *mockOutboxService) DeadLetters(ctx context.Context, limit int) ([]model.OutboxEntry, error) {
	if m.deadLettersFn != nil {
		return m.deadLettersFn(ctx, limit)
	}
	return nil, nil
}

func (m *mockOutboxService) Replay(ctx context.Context, id int64, budget int) (*model.OutboxEntry, error) {
	if m.replayFn != nil {
		return m.replayFn(ctx, id, budget)
	}
	return nil, nil
}

func (m *mockOutboxService) Counts(context.Context) (map[model.OutboxStatus]int64, error) {
	return map[model.OutboxStatus]int64{}, nil
}

type mockStatusService struct {
	health   queue.Health
	reportFn func(ctx context.Context) (*service.QueueReport, error)
}

func (m *mockStatusService) Health() queue.Health {
	return m.health
}

func (m *mockStatusService) Report(ctx context.Context) (*service.QueueReport, error) {
	if m.reportFn != nil {
		return m.reportFn(ctx)
	}
	return &service.QueueReport{Health: m.health}, nil
}

type mockQueueAdminService struct {
	deadLettersFn func(ctx context.Context, destination string, limit int) ([]queue.DeadLetter, error)
	requeueFn     func(ctx context.Context, destination, deadLetterID string) (string, error)
}

func (m *mockQueueAdminService) DeadLetters(ctx context.Context, destination string, limit int) ([]queue.DeadLetter, error) {
	if m.deadLettersFn != nil {
		return m.deadLettersFn(ctx, destination, limit)
	}
	return nil, nil
}

func (m *mockQueueAdminService) Requeue(ctx context.Context, destination, deadLetterID string) (string, error) {
	if m.requeueFn != nil {
		return m.requeueFn(ctx, destination, deadLetterID)
	}
	return "", nil
}
