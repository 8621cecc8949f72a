// Package ledger is the Ledger Store: the single component that owns SQL
// access to Postgres for every durable entity (§4.1). Every other package
// depends on it only through its own narrow interface (budget.Ledger,
// webhookingress.Ledger, workflow.Ledger) — Store itself is never imported
// directly outside internal/app's wiring.
package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is backed by a pgxpool.Pool rather than a single *pgx.Conn so
// concurrent workers (dispatch workers, webhook handlers, the reaper) can
// share one connection budget.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// withTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise. Used for every operation that reads then conditionally
// writes state (§4.1's "atomic" operations), since Postgres gives us
// row-level locking instead of the Lua-script approach the scheduler uses
// against Redis.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op if already committed

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = fmt.Errorf("ledger: not found")

func mapNoRows(err error) error {
	if err == pgx.ErrNoRows {
		return ErrNotFound
	}
	return err
}
