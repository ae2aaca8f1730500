package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"basegraph.app/intake/common/id"
	"basegraph.app/intake/common/logger"
	"basegraph.app/intake/internal/model"
	"basegraph.app/intake/internal/queue"
	"basegraph.app/intake/internal/store"
)

type Config struct {
	Consumer         string
	BatchSize        int64
	Block            time.Duration
	MaxAttempts      int           // processing failures before an entry is dead-lettered
	ErrorBackoff     time.Duration // pause after a batch with failures
	OutboxMaxRetries int
}

// Worker consumes the intake queue: it classifies each received event,
// persists the classification together with an outbox entry for the routed
// destination, then acknowledges the queue entry and marks the event processed.
type Worker struct {
	queue      queue.EventQueue
	txRunner   TxRunner
	classifier EventClassifier
	cfg        Config
	newID      func() int64

	mu       sync.Mutex
	attempts map[string]int

	stopOnce  sync.Once
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(q queue.EventQueue, txRunner TxRunner, classifier EventClassifier, cfg Config) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &Worker{
		queue:      q,
		txRunner:   txRunner,
		classifier: classifier,
		cfg:        cfg,
		newID:      id.New,
		attempts:   make(map[string]int),
		stopCh:     make(chan struct{}),
		stoppedCh:  make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component:   "intake.worker",
		Consumer:    &w.cfg.Consumer,
		Destination: logger.Ptr(w.queue.Name()),
	})

	slog.InfoContext(ctx, "worker started", "batch_size", w.cfg.BatchSize, "block", w.cfg.Block)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
		}

		failed, err := w.processOneBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			slog.ErrorContext(ctx, "batch processing error", "error", err)
			failed = true
		}
		if failed {
			w.pause(ctx, w.cfg.ErrorBackoff)
		}
	}
}

// Stop signals Run to return after the current batch and waits for it.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.stoppedCh
}

func (w *Worker) pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-w.stopCh:
	case <-t.C:
	}
}

func (w *Worker) processOneBatch(ctx context.Context) (bool, error) {
	messages, err := w.queue.ReadPending(ctx, w.cfg.Consumer, w.cfg.BatchSize, w.cfg.Block)
	if err != nil {
		return false, fmt.Errorf("reading from queue: %w", err)
	}

	failed := false
	for _, msg := range messages {
		if err := w.Handle(ctx, msg); err != nil {
			failed = true
		}
	}
	return failed, nil
}

// Handle processes msg under the worker's failure policy: a failing entry
// stays pending until MaxAttempts and then goes to the dead letters. The
// reclaimer hands claimed entries here.
func (w *Worker) Handle(ctx context.Context, msg queue.Message) error {
	err := w.processMessageSafe(ctx, msg)
	if err == nil {
		return nil
	}
	slog.ErrorContext(ctx, "message processing failed",
		"error", err,
		"message_id", msg.ID,
		"event_id", msg.Event.ID)
	w.handleFailedMessage(ctx, msg, err)
	return err
}

func (w *Worker) processMessageSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in message processing",
				"panic", r,
				"message_id", msg.ID,
				"event_id", msg.Event.ID)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.ProcessMessage(ctx, msg)
}

// ProcessMessage handles one queue entry end to end. Exported so it can be
// reused by the reclaimer. Redelivered entries are safe: an already processed
// event is only acknowledged, and the classified outbox entry is unique per
// source event and destination.
func (w *Worker) ProcessMessage(ctx context.Context, msg queue.Message) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		MessageID: &msg.ID,
		EventID:   &msg.Event.ID,
		OutboxID:  &msg.OutboxID,
	})

	span := logger.StartSpanFromTraceID(ctx, msg.TraceID, "worker.process_message",
		trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	ctx = span.Context()
	span.SetAttributes(
		attribute.String("intake.event_id", msg.Event.ID),
		attribute.String("intake.message_kind", string(msg.Kind)),
	)

	var err error
	switch msg.Kind {
	case model.OutboxEventIntakeReceived:
		err = w.classifyReceived(ctx, msg)
	case model.OutboxEventIntakeClassified:
		// Classified events belong on a route destination, not the intake queue.
		slog.WarnContext(ctx, "classified event on intake queue, acknowledging without processing")
		err = w.ack(ctx, msg)
	default:
		err = fmt.Errorf("%w: kind %q", queue.ErrMalformedMessage, msg.Kind)
	}
	if err != nil {
		span.RecordError(err)
		return err
	}

	w.forget(msg.ID)
	return nil
}

func (w *Worker) classifyReceived(ctx context.Context, msg queue.Message) error {
	event := msg.Event.Clone()
	if event.ID == "" {
		return fmt.Errorf("%w: event has no id", queue.ErrMalformedMessage)
	}

	var processed bool
	err := w.txRunner.WithTx(ctx, func(sp store.Provider) error {
		stored, err := sp.IntakeEvents().GetByID(ctx, event.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil
		case err != nil:
			return fmt.Errorf("loading event: %w", err)
		}
		processed = stored.Processed
		return nil
	})
	if err != nil {
		return fmt.Errorf("checking event state: %w", err)
	}
	if processed {
		slog.InfoContext(ctx, "event already processed, acknowledging redelivery")
		return w.ack(ctx, msg)
	}

	start := time.Now()
	result := w.classifier.ClassifyEvent(ctx, event)

	correlationID := msg.CorrelationID
	if correlationID == "" {
		correlationID = event.ID
	}
	entry, err := model.NewOutboxEntry(w.newID(), model.OutboxEventIntakeClassified, string(event.RoutedTo), event, w.cfg.OutboxMaxRetries)
	if err != nil {
		return fmt.Errorf("building classified outbox entry: %w", err)
	}
	entry.CorrelationID = &correlationID
	entry.CausationID = &event.ID

	err = w.txRunner.WithTx(ctx, func(sp store.Provider) error {
		// The queue entry carries the full event, so a row missing from this
		// store (e.g. a memory store in another process) is recreated.
		if _, err := sp.IntakeEvents().GetByID(ctx, event.ID); errors.Is(err, store.ErrNotFound) {
			if err := sp.IntakeEvents().Create(ctx, event); err != nil {
				return fmt.Errorf("recreating event row: %w", err)
			}
		} else if err != nil {
			return fmt.Errorf("loading event: %w", err)
		}
		if err := sp.IntakeEvents().UpdateClassification(ctx, event); err != nil {
			return fmt.Errorf("saving classification: %w", err)
		}
		if err := sp.Outbox().Add(ctx, entry); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				slog.InfoContext(ctx, "classified outbox entry already staged")
				return nil
			}
			return fmt.Errorf("staging classified outbox entry: %w", err)
		}
		return nil
	})
	if err != nil {
		// Not acknowledged: the entry stays pending and is read again.
		return fmt.Errorf("transaction failed: %w", err)
	}

	slog.InfoContext(ctx, "event classified",
		"domain", result.Domain.Domain,
		"confidence", result.Domain.Confidence,
		"priority", result.Priority,
		"route", result.RouteTo,
		"stage", result.Escalation.Stage,
		"escalated", result.Escalation.Escalated,
		"duration_ms", time.Since(start).Milliseconds())

	if err := w.ack(ctx, msg); err != nil {
		return err
	}

	err = w.txRunner.WithTx(ctx, func(sp store.Provider) error {
		return sp.IntakeEvents().MarkProcessed(ctx, event.ID)
	})
	if err != nil {
		// The entry is acknowledged; a redelivery would reclassify, which the
		// outbox uniqueness makes harmless.
		slog.WarnContext(ctx, "failed to mark event processed", "error", err)
	}
	return nil
}

func (w *Worker) ack(ctx context.Context, msg queue.Message) error {
	acked, err := w.queue.Acknowledge(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("acknowledging message: %w", err)
	}
	if !acked {
		slog.DebugContext(ctx, "message was already acknowledged or trimmed")
	}
	return nil
}

// handleFailedMessage keeps a failed entry pending until MaxAttempts, then
// moves it to the queue's dead letters where it can be inspected and
// requeued. Only entries that cannot be decoded are dropped.
func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	if errors.Is(err, queue.ErrMalformedMessage) {
		slog.ErrorContext(ctx, "dropping malformed message",
			"error", err,
			"message_id", msg.ID,
			"event_id", msg.Event.ID)
		if _, ackErr := w.queue.Acknowledge(ctx, msg.ID); ackErr != nil {
			slog.ErrorContext(ctx, "failed to acknowledge malformed message", "error", ackErr)
			return
		}
		w.forget(msg.ID)
		return
	}

	w.mu.Lock()
	w.attempts[msg.ID]++
	attempt := w.attempts[msg.ID]
	w.mu.Unlock()

	if attempt < w.cfg.MaxAttempts {
		slog.WarnContext(ctx, "leaving failed message pending for retry",
			"message_id", msg.ID,
			"event_id", msg.Event.ID,
			"attempt", attempt)
		return
	}

	slog.ErrorContext(ctx, "max attempts reached, sending to DLQ",
		"error", err,
		"message_id", msg.ID,
		"event_id", msg.Event.ID,
		"attempts", attempt)
	if dlqErr := w.queue.DeadLetter(ctx, msg, err.Error()); dlqErr != nil {
		// Still pending; the next failure tries the DLQ again.
		slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		return
	}
	w.forget(msg.ID)
}

func (w *Worker) forget(msgID string) {
	w.mu.Lock()
	delete(w.attempts, msgID)
	w.mu.Unlock()
}
