package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"basegraph.app/intake/common/llm"
	"basegraph.app/intake/core/config"
	"basegraph.app/intake/core/db"
	"basegraph.app/intake/internal/classifier"
	"basegraph.app/intake/internal/queue"
	"basegraph.app/intake/internal/service"
	"basegraph.app/intake/internal/store"
	"basegraph.app/intake/internal/worker"
)

type Options struct {
	// Migrate applies schema migrations after connecting to Postgres.
	Migrate bool
}

// Runtime holds the backends one process talks to: the queue router, the
// stores and the model registry.
type Runtime struct {
	cfg    config.Config
	queues *queue.Router
	db     *db.DB          // nil in memory store mode
	memory *store.MemoryDB // nil in postgres store mode
	models *llm.Registry
}

func Open(ctx context.Context, cfg config.Config, opts Options) (*Runtime, error) {
	rt := &Runtime{cfg: cfg}

	queues, err := queue.Open(ctx, cfg.Queue)
	if err != nil {
		return nil, fmt.Errorf("opening queue: %w", err)
	}
	rt.queues = queues

	if cfg.UsesPostgres() {
		database, err := db.New(ctx, cfg.DB)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		rt.db = database
		if opts.Migrate {
			if err := database.Migrate(ctx); err != nil {
				rt.Close()
				return nil, err
			}
		}
	} else {
		slog.WarnContext(ctx, "store running in memory mode, intake events and outbox are lost on restart")
		rt.memory = store.NewMemoryDB()
	}

	tiers := make(map[llm.Tier]llm.Config, 2)
	if cfg.WeakLLM.Enabled() {
		tiers[llm.TierWeak] = llmConfig(cfg.WeakLLM)
	}
	if cfg.StrongLLM.Enabled() {
		tiers[llm.TierStrong] = llmConfig(cfg.StrongLLM)
	}
	models, err := llm.NewRegistryFromConfig(tiers)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.models = models

	slog.InfoContext(ctx, "runtime opened",
		"queue_mode", queues.Health().Mode,
		"queue_degraded", queues.Health().Degraded,
		"store_mode", cfg.StoreMode,
		"weak_model", models.Has(llm.TierWeak),
		"strong_model", models.Has(llm.TierStrong))

	return rt, nil
}

func llmConfig(c config.LLMConfig) llm.Config {
	return llm.Config{
		Provider:  c.Provider,
		APIKey:    c.APIKey,
		BaseURL:   c.BaseURL,
		Model:     c.Model,
		MaxTokens: c.MaxTokens,
	}
}

func (r *Runtime) Queues() *queue.Router {
	return r.queues
}

// Stores returns stores that run outside any transaction.
func (r *Runtime) Stores() store.Provider {
	if r.memory != nil {
		return r.memory.Stores()
	}
	return store.NewStores(r.db.Querier())
}

func (r *Runtime) TxRunner() service.TxRunner {
	if r.memory != nil {
		return r.memory
	}
	return service.NewTxRunner(r.db)
}

// SelfContained reports whether queue or store state lives in this process
// only, so the worker and relay must run here too.
func (r *Runtime) SelfContained() bool {
	return r.memory != nil || r.queues.Redis() == nil
}

// Ping checks the database; memory mode is always reachable.
func (r *Runtime) Ping(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	return r.db.Ping(ctx)
}

// NewCascade builds the classifier with the configured few-shot backend. A
// redis backend falls back to the file store when the queue fell back to memory.
func (r *Runtime) NewCascade(ctx context.Context) (*classifier.Cascade, error) {
	cc := r.cfg.Classifier

	var fewShots classifier.FewShotStore
	switch {
	case cc.FewShotBackend == config.FewShotBackendRedis && r.queues.Redis() != nil:
		rs, err := classifier.NewRedisFewShotStore(r.queues.Redis(), r.cfg.Queue.StreamPrefix+":fewshot", cc.FewShotMaxExamples)
		if err != nil {
			return nil, err
		}
		fewShots = rs
	default:
		if cc.FewShotBackend == config.FewShotBackendRedis {
			slog.WarnContext(ctx, "redis unavailable, few-shot examples stored on disk", "path", cc.FewShotPath)
		}
		fs, err := classifier.NewFileFewShotStore(cc.FewShotPath, cc.FewShotMaxExamples)
		if err != nil {
			return nil, err
		}
		fewShots = fs
	}

	defaults := classifier.DefaultConfig()
	return classifier.New(classifier.Config{
		EnableCascade:  cc.EnableCascade,
		RuleThreshold:  cc.RuleThreshold,
		WeakThreshold:  cc.WeakThreshold,
		PromptExamples: cc.FewShotPromptLimit,
		ModelTimeout:   cc.ModelCallTimeout,
		ModelAttempts:  defaults.ModelAttempts,
		RetryBackoff:   defaults.RetryBackoff,
	}, r.models, fewShots), nil
}

// NewWorker builds the intake consumer and, on a backend with consumer
// groups, its reclaimer. The reclaimer is nil otherwise.
func (r *Runtime) NewWorker(ctx context.Context, cascade worker.EventClassifier) (*worker.Worker, *worker.Reclaimer, error) {
	q, err := r.queues.Queue(ctx, queue.IntakeDestination)
	if err != nil {
		return nil, nil, fmt.Errorf("opening intake queue: %w", err)
	}

	qc := r.cfg.Queue
	w := worker.New(q, r.TxRunner(), cascade, worker.Config{
		Consumer:         qc.Consumer,
		BatchSize:        qc.BatchSize,
		Block:            qc.Block,
		ErrorBackoff:     qc.ErrorBackoff,
		MaxAttempts:      qc.MaxAttempts,
		OutboxMaxRetries: r.cfg.Outbox.MaxRetries,
	})

	source, ok := q.(queue.Reclaimer)
	if !ok {
		return w, nil, nil
	}
	rc := r.cfg.Reclaimer
	reclaimer := worker.NewReclaimer(source, w.Handle, worker.ReclaimerConfig{
		Consumer:  qc.Consumer,
		MinIdle:   rc.MinIdle,
		Interval:  rc.Interval,
		BatchSize: rc.BatchSize,
	})
	return w, reclaimer, nil
}

// NewRelay builds the outbox relay. With redis available and leasing on,
// only the lease holder publishes.
func (r *Runtime) NewRelay() (*worker.Relay, error) {
	rc := r.cfg.Relay

	var lease worker.Lease
	if rc.LeaseEnabled && r.queues.Redis() != nil {
		l, err := worker.NewRedisLease(r.queues.Redis(), rc.LeaseKey, rc.LeaseTTL)
		if err != nil {
			return nil, err
		}
		lease = l
	}

	return worker.NewRelay(r.Stores().Outbox(), r.queues, lease, worker.RelayConfig{
		BatchSize:    rc.BatchSize,
		PollInterval: rc.PollInterval,
		ErrorBackoff: rc.ErrorBackoff,
	}), nil
}

func (r *Runtime) Close() error {
	var errs []error
	if r.models != nil {
		errs = append(errs, r.models.Close())
	}
	if r.queues != nil {
		errs = append(errs, r.queues.Close())
	}
	if r.db != nil {
		r.db.Close()
	}
	return errors.Join(errs...)
}
