package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"basegraph.app/intake/internal/model"
)

type RedisConfig struct {
	Stream string // Redis stream name
	Group  string // Redis consumer group name
	MaxLen int64  // Approximate stream length bound; older entries are trimmed
	// DLQStream receives entries that exhausted their attempts. Defaults to
	// DeadLetterStreamName(Stream).
	DLQStream string
}

// RedisQueue is the durable EventQueue backed by a Redis stream and consumer group.
type RedisQueue struct {
	client *redis.Client
	cfg    RedisConfig
}

func NewRedisQueue(ctx context.Context, client *redis.Client, cfg RedisConfig) (*RedisQueue, error) {
	if cfg.DLQStream == "" {
		cfg.DLQStream = DeadLetterStreamName(cfg.Stream)
	}
	q := &RedisQueue{
		client: client,
		cfg:    cfg,
	}

	if err := q.ensureGroup(ctx); err != nil {
		return nil, err
	}

	return q, nil
}

func (q *RedisQueue) ensureGroup(ctx context.Context) error {
	// Start from "0" so entries pushed before the group existed are still delivered.
	err := q.client.XGroupCreateMkStream(ctx, q.cfg.Stream, q.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating consumer group (stream=%s): %w", q.cfg.Stream, err)
	}
	return nil
}

func (q *RedisQueue) Name() string {
	return q.cfg.Stream
}

func (q *RedisQueue) Push(ctx context.Context, msg Message) (string, error) {
	values, err := encodeMessage(msg)
	if err != nil {
		return "", err
	}

	args := &redis.XAddArgs{
		Stream: q.cfg.Stream,
		Values: values,
	}
	if q.cfg.MaxLen > 0 {
		args.MaxLen = q.cfg.MaxLen
		args.Approx = true
	}

	id, err := q.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd (stream=%s): %w", q.cfg.Stream, err)
	}

	slog.DebugContext(ctx, "pushed message", "stream", q.cfg.Stream, "message_id", id, "kind", msg.Kind)
	return id, nil
}

// ReadPending first returns entries already delivered to consumer but not yet
// acknowledged, then new entries. A block of zero or less never blocks.
func (q *RedisQueue) ReadPending(ctx context.Context, consumer string, count int64, block time.Duration) ([]Message, error) {
	own, err := q.read(ctx, consumer, "0", count, -1)
	if err != nil {
		return nil, err
	}
	if len(own) > 0 {
		return own, nil
	}

	if block <= 0 {
		// go-redis sends BLOCK 0 (wait forever) for a zero duration.
		block = -1
	}
	return q.read(ctx, consumer, ">", count, block)
}

func (q *RedisQueue) read(ctx context.Context, consumer, start string, count int64, block time.Duration) ([]Message, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.cfg.Group,
		Consumer: consumer,
		Streams:  []string{q.cfg.Stream, start},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Message{}, nil
		}
		return nil, fmt.Errorf("reading from stream (stream=%s, start=%s): %w", q.cfg.Stream, start, err)
	}

	return q.decode(ctx, streams), nil
}

func (q *RedisQueue) decode(ctx context.Context, streams []redis.XStream) []Message {
	messages := []Message{}
	for _, stream := range streams {
		for _, raw := range stream.Messages {
			msg, err := DecodeMessage(raw)
			if err != nil {
				// Trimmed entries come back from the pending list with no values.
				slog.ErrorContext(ctx, "dropping undecodable message",
					"error", err,
					"message_id", raw.ID,
					"stream", q.cfg.Stream)
				_, _ = q.Acknowledge(ctx, raw.ID)
				continue
			}
			messages = append(messages, msg)
		}
	}
	return messages
}

func (q *RedisQueue) Acknowledge(ctx context.Context, id string) (bool, error) {
	n, err := q.client.XAck(ctx, q.cfg.Stream, q.cfg.Group, id).Result()
	if err != nil {
		return false, fmt.Errorf("xack (stream=%s): %w", q.cfg.Stream, err)
	}
	return n > 0, nil
}

// Reclaim claims entries idle for at least minIdle onto consumer. This covers
// a worker that died after XREADGROUP but before XACK.
func (q *RedisQueue) Reclaim(ctx context.Context, consumer string, minIdle time.Duration, count int64) ([]Message, error) {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.cfg.Stream,
		Group:  q.cfg.Group,
		Idle:   minIdle,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xpending (stream=%s): %w", q.cfg.Stream, err)
	}

	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		if p.Consumer == consumer {
			continue
		}
		ids = append(ids, p.ID)
	}
	if len(ids) == 0 {
		return []Message{}, nil
	}

	claimed, err := q.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   q.cfg.Stream,
		Group:    q.cfg.Group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xclaim (stream=%s): %w", q.cfg.Stream, err)
	}

	return q.decode(ctx, []redis.XStream{{Stream: q.cfg.Stream, Messages: claimed}}), nil
}

func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	length, err := q.client.XLen(ctx, q.cfg.Stream).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("xlen (stream=%s): %w", q.cfg.Stream, err)
	}

	var pendingCount int64
	pending, err := q.client.XPending(ctx, q.cfg.Stream, q.cfg.Group).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Stats{}, fmt.Errorf("xpending (stream=%s): %w", q.cfg.Stream, err)
	}
	if pending != nil {
		pendingCount = pending.Count
	}

	dead, err := q.client.XLen(ctx, q.cfg.DLQStream).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("xlen (stream=%s): %w", q.cfg.DLQStream, err)
	}

	return Stats{
		Stream:       q.cfg.Stream,
		Backend:      "redis",
		Mode:         ModeDurable,
		Durable:      true,
		Length:       length,
		Pending:      pendingCount,
		MaxLen:       q.cfg.MaxLen,
		DeadLettered: dead,
	}, nil
}

// DeadLetter appends msg to the DLQ stream and acknowledges it in a single
// MULTI, so a failure leaves the entry pending on the queue.
func (q *RedisQueue) DeadLetter(ctx context.Context, msg Message, reason string) error {
	values, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	values["source_id"] = msg.ID
	values["error"] = reason
	values["failed_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: q.cfg.DLQStream, Values: values})
		pipe.XAck(ctx, q.cfg.Stream, q.cfg.Group, msg.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("dead-lettering (stream=%s, dlq=%s): %w", q.cfg.Stream, q.cfg.DLQStream, err)
	}

	slog.ErrorContext(ctx, "message sent to DLQ",
		"final_error", reason,
		"message_id", msg.ID,
		"dlq_stream", q.cfg.DLQStream)
	return nil
}

func (q *RedisQueue) DeadLetters(ctx context.Context, limit int64) ([]DeadLetter, error) {
	var (
		raw []redis.XMessage
		err error
	)
	if limit > 0 {
		raw, err = q.client.XRangeN(ctx, q.cfg.DLQStream, "-", "+", limit).Result()
	} else {
		raw, err = q.client.XRange(ctx, q.cfg.DLQStream, "-", "+").Result()
	}
	if err != nil {
		return nil, fmt.Errorf("xrange (stream=%s): %w", q.cfg.DLQStream, err)
	}

	out := make([]DeadLetter, 0, len(raw))
	for _, r := range raw {
		d, err := decodeDeadLetter(r)
		if err != nil {
			slog.WarnContext(ctx, "skipping undecodable dead letter", "error", err, "dead_letter_id", r.ID)
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (q *RedisQueue) Requeue(ctx context.Context, deadLetterID string) (string, error) {
	raw, err := q.client.XRange(ctx, q.cfg.DLQStream, deadLetterID, deadLetterID).Result()
	if err != nil {
		return "", fmt.Errorf("xrange (stream=%s): %w", q.cfg.DLQStream, err)
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("%w: %s", ErrDeadLetterNotFound, deadLetterID)
	}

	d, err := decodeDeadLetter(raw[0])
	if err != nil {
		return "", err
	}
	values, err := encodeMessage(d.Message)
	if err != nil {
		return "", err
	}

	args := &redis.XAddArgs{Stream: q.cfg.Stream, Values: values}
	if q.cfg.MaxLen > 0 {
		args.MaxLen = q.cfg.MaxLen
		args.Approx = true
	}

	var add *redis.StringCmd
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		add = pipe.XAdd(ctx, args)
		pipe.XDel(ctx, q.cfg.DLQStream, deadLetterID)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("requeueing dead letter %s: %w", deadLetterID, err)
	}

	slog.InfoContext(ctx, "dead letter requeued",
		"dead_letter_id", deadLetterID,
		"message_id", add.Val(),
		"stream", q.cfg.Stream)
	return add.Val(), nil
}

func decodeDeadLetter(raw redis.XMessage) (DeadLetter, error) {
	msg, err := DecodeMessage(raw)
	if err != nil {
		return DeadLetter{}, err
	}
	msg.ID = stringValue(raw.Values, "source_id")

	d := DeadLetter{
		ID:      raw.ID,
		Message: msg,
		Reason:  stringValue(raw.Values, "error"),
	}
	if ts := stringValue(raw.Values, "failed_at"); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			d.FailedAt = t
		}
	}
	return d, nil
}

func encodeMessage(msg Message) (map[string]any, error) {
	event, err := json.Marshal(msg.Event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	values := map[string]any{
		"kind":  string(msg.Kind),
		"event": string(event),
	}
	if msg.OutboxID != 0 {
		values["outbox_id"] = msg.OutboxID
	}
	if msg.CorrelationID != "" {
		values["correlation_id"] = msg.CorrelationID
	}
	if msg.TraceID != "" {
		values["trace_id"] = msg.TraceID
	}
	return values, nil
}

// DecodeMessage parses a raw stream entry written by Push.
func DecodeMessage(raw redis.XMessage) (Message, error) {
	if len(raw.Values) == 0 {
		return Message{}, fmt.Errorf("%w: entry %s has no fields", ErrMalformedMessage, raw.ID)
	}

	kind, err := model.ParseOutboxEventType(stringValue(raw.Values, "kind"))
	if err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	var event model.IntakeEvent
	if err := json.Unmarshal([]byte(stringValue(raw.Values, "event")), &event); err != nil {
		return Message{}, fmt.Errorf("%w: event: %w", ErrMalformedMessage, err)
	}

	msg := Message{
		ID:            raw.ID,
		Kind:          kind,
		Event:         event,
		CorrelationID: stringValue(raw.Values, "correlation_id"),
		TraceID:       stringValue(raw.Values, "trace_id"),
	}

	if s := stringValue(raw.Values, "outbox_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Message{}, fmt.Errorf("%w: outbox_id: %w", ErrMalformedMessage, err)
		}
		msg.OutboxID = id
	}

	return msg, nil
}

func stringValue(values map[string]any, key string) string {
	raw, ok := values[key]
	if !ok || raw == nil {
		return ""
	}
	return fmt.Sprint(raw)
}
