package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"basegraph.app/intake/core/config"
)

const pingTimeout = 3 * time.Second

// Health is the queue mode as decided at startup.
type Health struct {
	ConfiguredMode Mode   `json:"configured_mode"`
	Mode           Mode   `json:"mode"`
	Durable        bool   `json:"durable"`
	Degraded       bool   `json:"degraded"`
	DegradedReason string `json:"degraded_reason,omitempty"`
}

// Router owns one EventQueue per destination, all on the backend chosen by Open.
type Router struct {
	health Health
	prefix string
	group  string
	maxLen int64
	client *redis.Client

	mu     sync.Mutex
	queues map[string]EventQueue
}

// Open picks the queue backend once. Durable mode requires Redis; when Redis
// is unreachable it fails unless AllowFallback is set, in which case the
// router runs in-memory and reports itself degraded.
func Open(ctx context.Context, cfg config.QueueConfig) (*Router, error) {
	mode, err := ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}

	switch mode {
	case ModeEphemeral:
		slog.WarnContext(ctx, "queue running in ephemeral mode, entries are lost on restart")
		return NewEphemeralRouter(cfg, ""), nil
	case ModeDurable:
		client, err := connect(ctx, cfg.RedisURL)
		if err == nil {
			return NewDurableRouter(client, cfg), nil
		}
		if !cfg.AllowFallback {
			return nil, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
		}
		slog.WarnContext(ctx, "durable queue unavailable, falling back to in-memory queue",
			"error", err,
			"redis_url", redactURL(cfg.RedisURL))
		return NewEphemeralRouter(cfg, err.Error()), nil
	default:
		return nil, fmt.Errorf("unhandled queue mode %q", mode)
	}
}

func connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func NewDurableRouter(client *redis.Client, cfg config.QueueConfig) *Router {
	return &Router{
		health: Health{
			ConfiguredMode: ModeDurable,
			Mode:           ModeDurable,
			Durable:        true,
		},
		prefix: cfg.StreamPrefix,
		group:  cfg.Group,
		maxLen: cfg.MaxLen,
		client: client,
		queues: make(map[string]EventQueue),
	}
}

// NewEphemeralRouter builds an in-memory router. A non-empty degradedReason
// marks it as a fallback from durable mode.
func NewEphemeralRouter(cfg config.QueueConfig, degradedReason string) *Router {
	configured := ModeEphemeral
	if degradedReason != "" {
		configured = ModeDurable
	}
	return &Router{
		health: Health{
			ConfiguredMode: configured,
			Mode:           ModeEphemeral,
			Degraded:       degradedReason != "",
			DegradedReason: degradedReason,
		},
		prefix: cfg.StreamPrefix,
		group:  cfg.Group,
		maxLen: cfg.MaxLen,
		queues: make(map[string]EventQueue),
	}
}

func (r *Router) Health() Health {
	return r.health
}

// Redis returns the Redis client, or nil when the router is in-memory.
func (r *Router) Redis() *redis.Client {
	return r.client
}

// Queue returns the queue for destination, creating it on first use.
func (r *Router) Queue(ctx context.Context, destination string) (EventQueue, error) {
	destination, err := ParseDestination(destination)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if q, ok := r.queues[destination]; ok {
		return q, nil
	}

	stream := StreamName(r.prefix, destination)
	var q EventQueue
	if r.client != nil {
		rq, err := NewRedisQueue(ctx, r.client, RedisConfig{
			Stream: stream,
			Group:  r.group,
			MaxLen: r.maxLen,
		})
		if err != nil {
			return nil, err
		}
		q = rq
	} else {
		q = NewMemoryQueue(stream, r.maxLen)
	}

	r.queues[destination] = q
	return q, nil
}

// Publish pushes msg onto the destination's queue.
func (r *Router) Publish(ctx context.Context, destination string, msg Message) (string, error) {
	q, err := r.Queue(ctx, destination)
	if err != nil {
		return "", err
	}
	return q.Push(ctx, msg)
}

// DeadLetters lists the dead letters of the destination's queue.
func (r *Router) DeadLetters(ctx context.Context, destination string, limit int64) ([]DeadLetter, error) {
	q, err := r.Queue(ctx, destination)
	if err != nil {
		return nil, err
	}
	return q.DeadLetters(ctx, limit)
}

// Requeue moves one of the destination's dead letters back onto its queue.
func (r *Router) Requeue(ctx context.Context, destination, deadLetterID string) (string, error) {
	q, err := r.Queue(ctx, destination)
	if err != nil {
		return "", err
	}
	return q.Requeue(ctx, deadLetterID)
}

// Stats reports every queue opened so far, sorted by stream name, with the
// router's degraded state applied.
func (r *Router) Stats(ctx context.Context) ([]Stats, error) {
	r.mu.Lock()
	queues := make([]EventQueue, 0, len(r.queues))
	for _, q := range r.queues {
		queues = append(queues, q)
	}
	r.mu.Unlock()

	out := make([]Stats, 0, len(queues))
	for _, q := range queues {
		s, err := q.Stats(ctx)
		if err != nil {
			return nil, err
		}
		s.Degraded = r.health.Degraded
		s.DegradedReason = r.health.DegradedReason
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stream < out[j].Stream })
	return out, nil
}

func (r *Router) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func redactURL(raw string) string {
	opts, err := redis.ParseURL(raw)
	if err != nil {
		return "<invalid>"
	}
	return opts.Addr
}
