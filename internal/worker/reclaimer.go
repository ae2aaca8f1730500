package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"basegraph.app/intake/common/logger"
	"basegraph.app/intake/internal/queue"
)

type ReclaimerConfig struct {
	Consumer  string
	MinIdle   time.Duration
	Interval  time.Duration
	BatchSize int64
}

// Reclaimer periodically claims stale pending entries onto this consumer and
// processes them. This handles the crash recovery scenario where a worker
// dies after reading an entry but before acknowledging it.
type Reclaimer struct {
	source    queue.Reclaimer
	processor MessageProcessor
	cfg       ReclaimerConfig

	stopOnce  sync.Once
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewReclaimer(source queue.Reclaimer, processor MessageProcessor, cfg ReclaimerConfig) *Reclaimer {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &Reclaimer{
		source:    source,
		processor: processor,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run starts the reclaimer loop. Blocks until Stop() is called or ctx ends.
func (r *Reclaimer) Run(ctx context.Context) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "intake.worker.reclaimer",
		Consumer:  &r.cfg.Consumer,
	})

	defer close(r.stoppedCh)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "reclaimer started",
		"interval", r.cfg.Interval,
		"min_idle", r.cfg.MinIdle)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stopCh:
			slog.InfoContext(ctx, "reclaimer stopping")
			return nil
		case <-ticker.C:
			if _, err := r.ReclaimOnce(ctx); err != nil {
				slog.ErrorContext(ctx, "reclaim cycle error", "error", err)
			}
		}
	}
}

// Stop signals the reclaimer to stop gracefully. Safe to call more than once.
func (r *Reclaimer) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.stoppedCh
}

// ReclaimOnce performs one reclaim cycle and returns how many entries were
// processed successfully. Consumer should be the worker's own consumer name:
// entries that fail then stay pending where the worker's pending read retries
// them and, after its attempts run out, dead-letters them.
func (r *Reclaimer) ReclaimOnce(ctx context.Context) (int, error) {
	messages, err := r.source.Reclaim(ctx, r.cfg.Consumer, r.cfg.MinIdle, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("reclaiming: %w", err)
	}
	if len(messages) == 0 {
		return 0, nil
	}

	slog.InfoContext(ctx, "claimed stale pending messages", "count", len(messages))

	done := 0
	for _, msg := range messages {
		msgCtx := logger.WithLogFields(ctx, logger.LogFields{MessageID: &msg.ID, EventID: &msg.Event.ID})

		start := time.Now()
		if err := r.processor(msgCtx, msg); err != nil {
			slog.ErrorContext(msgCtx, "failed to process reclaimed message", "error", err)
			continue
		}
		done++
		slog.InfoContext(msgCtx, "reclaimed message processed successfully",
			"duration_ms", time.Since(start).Milliseconds())
	}
	return done, nil
}
