package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// MemoryQueue is the ephemeral EventQueue. It has the same contract as
// RedisQueue except that state is lost on restart and there is no consumer
// group: every consumer sees the same unacknowledged entries, so running more
// than one consumer against it delivers duplicates.
type MemoryQueue struct {
	name   string
	maxLen int64

	mu      sync.Mutex
	seq     int64
	entries []Message
	dead    []DeadLetter
	notify  chan struct{}
}

func NewMemoryQueue(name string, maxLen int64) *MemoryQueue {
	return &MemoryQueue{
		name:   name,
		maxLen: maxLen,
		notify: make(chan struct{}),
	}
}

func (q *MemoryQueue) Name() string {
	return q.name
}

func (q *MemoryQueue) Push(_ context.Context, msg Message) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.push(msg), nil
}

func (q *MemoryQueue) push(msg Message) string {
	msg.ID = q.nextID()
	q.entries = append(q.entries, msg)

	// Entries past the bound are trimmed oldest first, acknowledged or not.
	if q.maxLen > 0 && int64(len(q.entries)) > q.maxLen {
		drop := int64(len(q.entries)) - q.maxLen
		q.entries = append([]Message(nil), q.entries[drop:]...)
	}

	close(q.notify)
	q.notify = make(chan struct{})

	return msg.ID
}

func (q *MemoryQueue) nextID() string {
	q.seq++
	return strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + strconv.FormatInt(q.seq, 10)
}

// ReadPending returns up to count unacknowledged entries in insertion order,
// waiting up to block for one to arrive when the queue is empty. The consumer
// name is accepted for interface parity and otherwise ignored.
func (q *MemoryQueue) ReadPending(ctx context.Context, _ string, count int64, block time.Duration) ([]Message, error) {
	var deadline <-chan time.Time
	if block > 0 {
		timer := time.NewTimer(block)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		q.mu.Lock()
		out := q.snapshot(count)
		notify := q.notify
		q.mu.Unlock()

		if len(out) > 0 || deadline == nil {
			return out, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return []Message{}, nil
		case <-notify:
		}
	}
}

func (q *MemoryQueue) snapshot(count int64) []Message {
	n := int64(len(q.entries))
	if count > 0 && count < n {
		n = count
	}
	out := make([]Message, n)
	copy(out, q.entries[:n])
	return out
}

func (q *MemoryQueue) Acknowledge(_ context.Context, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.remove(id), nil
}

func (q *MemoryQueue) remove(id string) bool {
	for i, m := range q.entries {
		if m.ID == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (q *MemoryQueue) DeadLetter(_ context.Context, msg Message, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.remove(msg.ID)
	q.dead = append(q.dead, DeadLetter{
		ID:       q.nextID(),
		Message:  msg,
		Reason:   reason,
		FailedAt: time.Now().UTC(),
	})
	return nil
}

func (q *MemoryQueue) DeadLetters(_ context.Context, limit int64) ([]DeadLetter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := int64(len(q.dead))
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]DeadLetter, n)
	copy(out, q.dead[:n])
	return out, nil
}

func (q *MemoryQueue) Requeue(_ context.Context, deadLetterID string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, d := range q.dead {
		if d.ID == deadLetterID {
			q.dead = append(q.dead[:i], q.dead[i+1:]...)
			return q.push(d.Message), nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrDeadLetterNotFound, deadLetterID)
}

func (q *MemoryQueue) Stats(_ context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return Stats{
		Stream:  q.name,
		Backend: "memory",
		Mode:    ModeEphemeral,
		Length:  int64(len(q.entries)),
		Pending: int64(len(q.entries)),
		MaxLen:  q.maxLen,

		DeadLettered: int64(len(q.dead)),
	}, nil
}
