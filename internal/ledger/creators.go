package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relaypost/relaypost/pkg/creator"
)

// CreateCreator inserts a new creator and returns its principal.
func (s *Store) CreateCreator(ctx context.Context, name string) (creator.Principal, error) {
	id := uuid.New()
	_, err := s.db.Exec(ctx,
		`INSERT INTO creators (id, name) VALUES ($1, $2)`,
		id, name,
	)
	if err != nil {
		return creator.Principal{}, fmt.Errorf("inserting creator: %w", err)
	}
	return creator.NewPrincipal(id), nil
}

// CreatorExists reports whether a creator row exists for id, so callers
// threading a CreatorPrincipal through request handlers (§9) can reject an
// unknown principal before touching any other table.
func (s *Store) CreatorExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM creators WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking creator existence: %w", err)
	}
	return exists, nil
}

// CreatorCreatedAt returns a creator's creation time; kept minimal since
// creator metadata beyond identity is a collaborator concern.
func (s *Store) CreatorCreatedAt(ctx context.Context, id uuid.UUID) (time.Time, error) {
	var createdAt time.Time
	err := s.db.QueryRow(ctx, `SELECT created_at FROM creators WHERE id = $1`, id).Scan(&createdAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("loading creator: %w", mapNoRows(err))
	}
	return createdAt, nil
}
