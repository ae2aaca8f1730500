package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"basegraph.app/intake/internal/model"
)

// MemoryDB keeps intake events and outbox entries in process memory for
// running the pipeline without Postgres. WithTx holds the lock for the whole
// unit of work and restores a snapshot if it fails, so transactions are
// serialized against every other access.
type MemoryDB struct {
	mu    sync.Mutex
	state memState
}

type memState struct {
	events map[string]*model.IntakeEvent
	outbox map[int64]*model.OutboxEntry
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		state: memState{
			events: make(map[string]*model.IntakeEvent),
			outbox: make(map[int64]*model.OutboxEntry),
		},
	}
}

// Stores returns stores that lock per operation.
func (m *MemoryDB) Stores() Provider {
	return memProvider{db: m, locked: false}
}

// WithTx runs fn against stores that see and write the same state; any
// error rolls all of fn's writes back.
func (m *MemoryDB) WithTx(_ context.Context, fn func(p Provider) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(memProvider{db: m, locked: true}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (s memState) clone() memState {
	c := memState{
		events: make(map[string]*model.IntakeEvent, len(s.events)),
		outbox: make(map[int64]*model.OutboxEntry, len(s.outbox)),
	}
	for k, v := range s.events {
		c.events[k] = v.Clone()
	}
	for k, v := range s.outbox {
		c.outbox[k] = v.Clone()
	}
	return c
}

type memProvider struct {
	db     *MemoryDB
	locked bool
}

func (p memProvider) IntakeEvents() IntakeEventStore {
	return &memIntakeEventStore{memProvider: p}
}

func (p memProvider) Outbox() OutboxStore {
	return &memOutboxStore{memProvider: p}
}

func (p memProvider) with(fn func(s *memState) error) error {
	if !p.locked {
		p.db.mu.Lock()
		defer p.db.mu.Unlock()
	}
	return fn(&p.db.state)
}

type memIntakeEventStore struct {
	memProvider
}

func (s *memIntakeEventStore) Create(_ context.Context, event *model.IntakeEvent) error {
	return s.with(func(st *memState) error {
		if _, ok := st.events[event.ID]; ok {
			return fmt.Errorf("intake event %s already exists", event.ID)
		}
		st.events[event.ID] = event.Clone()
		return nil
	})
}

func (s *memIntakeEventStore) CreateOrGet(_ context.Context, event *model.IntakeEvent) (*model.IntakeEvent, bool, error) {
	var (
		out     *model.IntakeEvent
		created bool
	)
	err := s.with(func(st *memState) error {
		if event.DedupeKey != nil && *event.DedupeKey != "" {
			for _, existing := range st.events {
				if existing.DedupeKey != nil && *existing.DedupeKey == *event.DedupeKey {
					out = existing.Clone()
					return nil
				}
			}
		}
		if _, ok := st.events[event.ID]; ok {
			return fmt.Errorf("intake event %s already exists", event.ID)
		}
		st.events[event.ID] = event.Clone()
		out, created = event, true
		return nil
	})
	return out, created, err
}

func (s *memIntakeEventStore) GetByID(_ context.Context, id string) (*model.IntakeEvent, error) {
	var out *model.IntakeEvent
	err := s.with(func(st *memState) error {
		e, ok := st.events[id]
		if !ok {
			return ErrNotFound
		}
		out = e.Clone()
		return nil
	})
	return out, err
}

func (s *memIntakeEventStore) UpdateClassification(_ context.Context, event *model.IntakeEvent) error {
	return s.with(func(st *memState) error {
		e, ok := st.events[event.ID]
		if !ok {
			return ErrNotFound
		}
		e.Domain = event.Domain
		e.Priority = event.Priority
		e.Category = event.Category
		e.ProductPotential = event.ProductPotential
		e.ProductSignals = append([]string(nil), event.ProductSignals...)
		e.RoutedTo = event.RoutedTo
		return nil
	})
}

func (s *memIntakeEventStore) MarkProcessed(_ context.Context, id string) error {
	return s.with(func(st *memState) error {
		e, ok := st.events[id]
		if !ok {
			return ErrNotFound
		}
		e.Processed = true
		return nil
	})
}

func (s *memIntakeEventStore) ListUnprocessed(_ context.Context, limit int) ([]model.IntakeEvent, error) {
	out := []model.IntakeEvent{}
	err := s.with(func(st *memState) error {
		for _, e := range st.events {
			if !e.Processed {
				out = append(out, *e.Clone())
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

type memOutboxStore struct {
	memProvider
}

func (s *memOutboxStore) Add(_ context.Context, entry *model.OutboxEntry) error {
	return s.with(func(st *memState) error {
		if _, ok := st.outbox[entry.ID]; ok {
			return fmt.Errorf("outbox entry %d already exists", entry.ID)
		}
		if entry.CausationID != nil {
			for _, e := range st.outbox {
				if e.CausationID != nil && *e.CausationID == *entry.CausationID &&
					e.EventType == entry.EventType && e.Destination == entry.Destination {
					return fmt.Errorf("%w: causation=%s", ErrDuplicate, *entry.CausationID)
				}
			}
		}
		st.outbox[entry.ID] = entry.Clone()
		return nil
	})
}

func (s *memOutboxStore) GetPending(_ context.Context, limit int) ([]model.OutboxEntry, error) {
	return s.filter(limit, func(e *model.OutboxEntry) bool { return e.Status.Deliverable() })
}

func (s *memOutboxStore) GetDeadLetters(_ context.Context, limit int) ([]model.OutboxEntry, error) {
	return s.filter(limit, func(e *model.OutboxEntry) bool { return e.Status == model.OutboxStatusDeadLetter })
}

func (s *memOutboxStore) filter(limit int, keep func(*model.OutboxEntry) bool) ([]model.OutboxEntry, error) {
	out := []model.OutboxEntry{}
	err := s.with(func(st *memState) error {
		for _, e := range st.outbox {
			if keep(e) {
				out = append(out, *e.Clone())
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (s *memOutboxStore) GetByID(_ context.Context, id int64) (*model.OutboxEntry, error) {
	var out *model.OutboxEntry
	err := s.with(func(st *memState) error {
		e, ok := st.outbox[id]
		if !ok {
			return ErrNotFound
		}
		out = e.Clone()
		return nil
	})
	return out, err
}

func (s *memOutboxStore) Update(_ context.Context, entry *model.OutboxEntry) error {
	return s.with(func(st *memState) error {
		e, ok := st.outbox[entry.ID]
		if !ok {
			return ErrNotFound
		}
		if !e.Status.CanTransitionTo(entry.Status) {
			return fmt.Errorf("%w: id=%d status=%s, refusing %s", ErrTerminalState, entry.ID, e.Status, entry.Status)
		}

		src := entry.Clone()
		e.Status = src.Status
		e.MaxRetries = src.MaxRetries
		e.LastError = src.LastError
		e.PublishedAt = src.PublishedAt
		if src.RetryCount > e.RetryCount {
			e.RetryCount = src.RetryCount
		}
		return nil
	})
}

func (s *memOutboxStore) CountByStatus(_ context.Context) (map[model.OutboxStatus]int64, error) {
	counts := make(map[model.OutboxStatus]int64, 4)
	err := s.with(func(st *memState) error {
		for _, e := range st.outbox {
			counts[e.Status]++
		}
		return nil
	})
	return counts, err
}
