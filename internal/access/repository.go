package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/herald-labs/herald/internal/resource"
)

// ErrNotFound indicates no grant exists for the (resource, grantee) pair.
var ErrNotFound = errors.New("access: grant not found")

// Repository persists permission grants.
type Repository interface {
	Get(ctx context.Context, ref resource.Ref, granteeID int64) (*Grant, error)
	// Merge upserts the grant, keeping the maximum of the existing and the
	// requested level, and returns the resulting level.
	Merge(ctx context.Context, grant Grant) (Level, error)
	// Delete removes the grant. Returns false when no grant existed.
	Delete(ctx context.Context, ref resource.Ref, granteeID int64) (bool, error)
	ListByResource(ctx context.Context, ref resource.Ref) ([]Grant, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository backed by resource_shares.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) Get(ctx context.Context, ref resource.Ref, granteeID int64) (*Grant, error) {
	var g Grant
	var kind string
	err := r.pool.QueryRow(ctx, `
		SELECT resource_kind, resource_id, grantee_id, level, created_by, created_at, updated_at
		FROM resource_shares
		WHERE resource_kind = $1 AND resource_id = $2 AND grantee_id = $3
	`, string(ref.Kind), ref.ID, granteeID).Scan(
		&kind, &g.Resource.ID, &g.GranteeID, &g.Level, &g.CreatedBy, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("access: get grant: %w", err)
	}
	g.Resource.Kind = resource.Kind(kind)
	return &g, nil
}

func (r *repository) Merge(ctx context.Context, grant Grant) (Level, error) {
	// GREATEST on the stored smallint keeps the merge atomic: two
	// concurrent re-grants cannot downgrade each other.
	var level Level
	err := r.pool.QueryRow(ctx, `
		INSERT INTO resource_shares (resource_kind, resource_id, grantee_id, level, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (resource_kind, resource_id, grantee_id)
		DO UPDATE SET level = GREATEST(resource_shares.level, EXCLUDED.level), updated_at = NOW()
		RETURNING level
	`, string(grant.Resource.Kind), grant.Resource.ID, grant.GranteeID, int(grant.Level), grant.CreatedBy).Scan(&level)
	if err != nil {
		return 0, fmt.Errorf("access: merge grant: %w", err)
	}
	return level, nil
}

func (r *repository) Delete(ctx context.Context, ref resource.Ref, granteeID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM resource_shares
		WHERE resource_kind = $1 AND resource_id = $2 AND grantee_id = $3
	`, string(ref.Kind), ref.ID, granteeID)
	if err != nil {
		return false, fmt.Errorf("access: delete grant: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repository) ListByResource(ctx context.Context, ref resource.Ref) ([]Grant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT resource_kind, resource_id, grantee_id, level, created_by, created_at, updated_at
		FROM resource_shares
		WHERE resource_kind = $1 AND resource_id = $2
		ORDER BY grantee_id
	`, string(ref.Kind), ref.ID)
	if err != nil {
		return nil, fmt.Errorf("access: list grants: %w", err)
	}
	defer rows.Close()

	var grants []Grant
	for rows.Next() {
		var g Grant
		var kind string
		if err := rows.Scan(&kind, &g.Resource.ID, &g.GranteeID, &g.Level, &g.CreatedBy, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		g.Resource.Kind = resource.Kind(kind)
		grants = append(grants, g)
	}
	return grants, rows.Err()
}
