package resource

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/herald-labs/herald/internal/shared"
)

// Store resolves resource ownership from the relational store.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store backed by the provided pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Owner returns the owning user id of the referenced resource.
func (s *Store) Owner(ctx context.Context, ref Ref) (int64, error) {
	if !ref.Kind.Valid() {
		return 0, fmt.Errorf("resource: unknown kind %q", ref.Kind)
	}
	query := fmt.Sprintf("SELECT owner_id FROM %s WHERE id = $1", table(ref.Kind))
	var ownerID int64
	if err := s.pool.QueryRow(ctx, query, ref.ID).Scan(&ownerID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, shared.ErrNotFound
		}
		return 0, fmt.Errorf("resource: owner lookup: %w", err)
	}
	return ownerID, nil
}
