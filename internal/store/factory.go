package store

import (
	"basegraph.app/intake/core/db"
)

// Stores builds Postgres-backed stores on a Querier, which is either the
// pool or an open transaction.
type Stores struct {
	q db.Querier
}

func NewStores(q db.Querier) *Stores {
	return &Stores{q: q}
}

func (s *Stores) IntakeEvents() IntakeEventStore {
	return newIntakeEventStore(s.q)
}

func (s *Stores) Outbox() OutboxStore {
	return newOutboxStore(s.q)
}
