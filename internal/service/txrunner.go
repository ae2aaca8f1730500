package service

import (
	"context"

	"basegraph.app/intake/core/db"
	"basegraph.app/intake/internal/store"
)

// StoreProvider exposes the stores available to a transactional operation.
type StoreProvider = store.Provider

// TxRunner runs functions within a transaction and provides stores bound to that transaction.
// *store.MemoryDB satisfies it directly for the in-memory store mode.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(stores StoreProvider) error) error
}

type dbTxRunner struct {
	db *db.DB
}

// NewTxRunner builds a TxRunner backed by the core DB.
func NewTxRunner(db *db.DB) TxRunner {
	return &dbTxRunner{db: db}
}

func (r *dbTxRunner) WithTx(ctx context.Context, fn func(stores StoreProvider) error) error {
	return r.db.WithTx(ctx, func(q db.Querier) error {
		return fn(store.NewStores(q))
	})
}
