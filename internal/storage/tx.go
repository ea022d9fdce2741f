package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/hakari/internal/actions"
)

// WithTransaction implements actions.Store: fn runs against a single
// transaction, committed on nil and rolled back on error. Transient
// serialization conflicts are retried; the compare-and-swap preconditions
// inside fn make a retried transaction a no-op if the first attempt
// actually committed.
func (db *DB) WithTransaction(ctx context.Context, fn func(tx actions.Store) error) error {
	err := withRetry(ctx, 3, 10*time.Millisecond, func() error {
		return pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
			return fn(txStore{queries{q: tx}})
		})
	})
	if err != nil {
		return fmt.Errorf("storage: transaction: %w", err)
	}
	return nil
}

// txStore is the transactional view handed to action Apply.
type txStore struct {
	queries
}

// WithTransaction on an open transaction reuses it; Postgres savepoints are
// not needed because actions never nest real transactions.
func (t txStore) WithTransaction(ctx context.Context, fn func(tx actions.Store) error) error {
	return fn(t)
}
