package worker_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"basegraph.app/intake/internal/model"
	"basegraph.app/intake/internal/queue"
	"basegraph.app/intake/internal/store"
)

const clientInvoice = "צריך לשלוח חשבונית ללקוח על הפרויקט"

func newEvent(id, content string) model.IntakeEvent {
	return model.IntakeEvent{
		ID:          id,
		Type:        model.EventTypeMessage,
		Timestamp:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Content:     content,
		ContentType: model.ContentTypeText,
		Metadata:    map[string]any{"source": "test"},
	}
}

func receivedMessage(event model.IntakeEvent) queue.Message {
	return queue.Message{
		Kind:          model.OutboxEventIntakeReceived,
		Event:         event,
		OutboxID:      1,
		CorrelationID: "corr-" + event.ID,
	}
}

type failingTx struct{}

func (failingTx) WithTx(context.Context, func(store.Provider) error) error {
	return errors.New("database unavailable")
}

type panickingClassifier struct{}

func (panickingClassifier) ClassifyEvent(context.Context, *model.IntakeEvent) *model.IntakeClassificationResult {
	panic("boom")
}

type recordingPublisher struct {
	err error

	mu       sync.Mutex
	messages []queue.Message
	dests    []string
}

func (p *recordingPublisher) Publish(_ context.Context, destination string, msg queue.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dests = append(p.dests, destination)
	if p.err != nil {
		return "", p.err
	}
	p.messages = append(p.messages, msg)
	return "1-1", nil
}

func (p *recordingPublisher) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.dests)
}
