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

	"basegraph.app/intake/common/logger"
	"basegraph.app/intake/internal/model"
	"basegraph.app/intake/internal/queue"
	"basegraph.app/intake/internal/store"
)

const publishTimeout = 10 * time.Second

type RelayConfig struct {
	BatchSize    int
	PollInterval time.Duration // sleep when a poll finds nothing
	ErrorBackoff time.Duration // sleep after a failed poll
}

// Relay drains the outbox into the event queue. Delivery is at-least-once:
// a crash between a successful publish and the status update republishes
// the entry on the next poll.
type Relay struct {
	outbox    store.OutboxStore
	publisher Publisher
	lease     Lease
	cfg       RelayConfig
	now       func() time.Time

	stopOnce  sync.Once
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// NewRelay builds a relay. lease may be nil when only one relay runs.
func NewRelay(outbox store.OutboxStore, publisher Publisher, lease Lease, cfg RelayConfig) *Relay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 10 * cfg.PollInterval
	}
	return &Relay{
		outbox:    outbox,
		publisher: publisher,
		lease:     lease,
		cfg:       cfg,
		now:       time.Now,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run polls until Stop is called or ctx ends. The stop signal is checked
// once per iteration, so an in-flight batch always finishes.
func (r *Relay) Run(ctx context.Context) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "intake.worker.relay"})

	defer close(r.stoppedCh)
	defer r.releaseLease(ctx)

	slog.InfoContext(ctx, "relay started",
		"batch_size", r.cfg.BatchSize,
		"poll_interval", r.cfg.PollInterval,
		"error_backoff", r.cfg.ErrorBackoff,
		"leased", r.lease != nil)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stopCh:
			slog.InfoContext(ctx, "relay stopping")
			return nil
		default:
		}

		n, err := r.RunOnce(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			if ctx.Err() != nil {
				continue
			}
			slog.ErrorContext(ctx, "relay poll failed, backing off", "error", err, "backoff", r.cfg.ErrorBackoff)
			wait = r.cfg.ErrorBackoff
		case n == 0: // empty batch, or every publish in it failed
			wait = r.cfg.PollInterval
		}

		if wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
			case <-r.stopCh:
			case <-t.C:
			}
			t.Stop()
		}
	}
}

func (r *Relay) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.stoppedCh
}

// RunOnce attempts one batch of deliverable entries and returns how many were
// published. It does nothing while another relay holds the lease.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	if r.lease != nil {
		held, err := r.lease.Acquire(ctx)
		if err != nil {
			return 0, err
		}
		if !held {
			slog.DebugContext(ctx, "relay lease held elsewhere, skipping poll")
			return 0, nil
		}
	}

	entries, err := r.outbox.GetPending(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("loading pending outbox entries: %w", err)
	}

	published := 0
	for i := range entries {
		if ctx.Err() != nil {
			break
		}
		if err := r.publish(ctx, &entries[i]); err != nil {
			return published, err
		}
		if entries[i].Status == model.OutboxStatusPublished {
			published++
		}
	}
	return published, nil
}

// publish delivers one entry and records the outcome. The attempt runs to
// completion even if ctx is cancelled meanwhile.
func (r *Relay) publish(ctx context.Context, entry *model.OutboxEntry) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		OutboxID:    &entry.ID,
		Destination: &entry.Destination,
	})
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	span := logger.StartSpan(ctx, "relay.publish", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	ctx = span.Context()
	span.SetAttributes(
		attribute.Int64("outbox.id", entry.ID),
		attribute.String("outbox.destination", entry.Destination),
		attribute.Int("outbox.retry_count", entry.RetryCount),
	)

	msgID, pubErr := r.send(ctx, entry, trace.SpanContextFromContext(ctx).TraceID())
	if pubErr != nil {
		span.RecordError(pubErr)
		if err := entry.MarkFailed(pubErr.Error()); err != nil {
			return err
		}
	} else if err := entry.MarkPublished(r.now()); err != nil {
		return err
	}

	if err := r.outbox.Update(ctx, entry); err != nil {
		if errors.Is(err, store.ErrTerminalState) || errors.Is(err, store.ErrNotFound) {
			slog.WarnContext(ctx, "outbox entry changed underneath the relay", "error", err)
			return nil
		}
		return fmt.Errorf("updating outbox entry %d: %w", entry.ID, err)
	}

	switch entry.Status {
	case model.OutboxStatusPublished:
		slog.DebugContext(ctx, "outbox entry published", "message_id", msgID)
	case model.OutboxStatusFailed:
		slog.WarnContext(ctx, "outbox publish failed, will retry",
			"error", pubErr,
			"retry_count", entry.RetryCount,
			"max_retries", entry.MaxRetries)
	case model.OutboxStatusDeadLetter:
		slog.ErrorContext(ctx, "outbox entry dead-lettered",
			"error", pubErr,
			"retry_count", entry.RetryCount,
			"max_retries", entry.MaxRetries)
	case model.OutboxStatusPending:
	}
	return nil
}

func (r *Relay) send(ctx context.Context, entry *model.OutboxEntry, traceID trace.TraceID) (string, error) {
	var event model.IntakeEvent
	if err := entry.DecodePayload(&event); err != nil {
		return "", err
	}

	msg := queue.Message{
		Kind:     entry.EventType,
		Event:    event,
		OutboxID: entry.ID,
	}
	if entry.CorrelationID != nil {
		msg.CorrelationID = *entry.CorrelationID
	}
	if traceID.IsValid() {
		msg.TraceID = traceID.String()
	}

	return r.publisher.Publish(ctx, entry.Destination, msg)
}

func (r *Relay) releaseLease(ctx context.Context) {
	if r.lease == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := r.lease.Release(ctx); err != nil {
		slog.WarnContext(ctx, "failed to release relay lease", "error", err)
	}
}
