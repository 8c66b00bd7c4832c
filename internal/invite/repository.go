package invite

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/herald-labs/herald/internal/access"
	"github.com/herald-labs/herald/internal/resource"
)

// ErrNotFound indicates no invite exists for the code.
var ErrNotFound = errors.New("invite: not found")

// Repository persists invite codes.
type Repository interface {
	Create(ctx context.Context, inv Invite) error
	GetByCode(ctx context.Context, code string) (*Invite, error)
	// ConsumeUse increments usage_count only while it is below max_uses and
	// reports whether a use was consumed. Unlimited invites always consume.
	ConsumeUse(ctx context.Context, code string) (bool, error)
	ListByResource(ctx context.Context, ref resource.Ref) ([]Invite, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository backed by invites.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) Create(ctx context.Context, inv Invite) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO invites (code, resource_kind, resource_id, levels, max_uses, usage_count, expires_at, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7, NOW())
	`, inv.Code, string(inv.Resource.Kind), inv.Resource.ID, levelsToInts(inv.Levels), inv.MaxUses, inv.ExpiresAt, inv.CreatedBy)
	if err != nil {
		return fmt.Errorf("invite: create: %w", err)
	}
	return nil
}

func (r *repository) GetByCode(ctx context.Context, code string) (*Invite, error) {
	var inv Invite
	var kind string
	var levels []int16
	err := r.pool.QueryRow(ctx, `
		SELECT code, resource_kind, resource_id, levels, max_uses, usage_count, expires_at, created_by, created_at
		FROM invites
		WHERE code = $1
	`, code).Scan(
		&inv.Code, &kind, &inv.Resource.ID, &levels, &inv.MaxUses,
		&inv.UsageCount, &inv.ExpiresAt, &inv.CreatedBy, &inv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("invite: get by code: %w", err)
	}
	inv.Resource.Kind = resource.Kind(kind)
	inv.Levels = intsToLevels(levels)
	return &inv, nil
}

func (r *repository) ConsumeUse(ctx context.Context, code string) (bool, error) {
	// Single conditional update so two concurrent redemptions cannot jointly
	// exceed max_uses.
	tag, err := r.pool.Exec(ctx, `
		UPDATE invites
		SET usage_count = usage_count + 1
		WHERE code = $1 AND (max_uses IS NULL OR usage_count < max_uses)
	`, code)
	if err != nil {
		return false, fmt.Errorf("invite: consume use: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repository) ListByResource(ctx context.Context, ref resource.Ref) ([]Invite, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT code, resource_kind, resource_id, levels, max_uses, usage_count, expires_at, created_by, created_at
		FROM invites
		WHERE resource_kind = $1 AND resource_id = $2
		ORDER BY created_at
	`, string(ref.Kind), ref.ID)
	if err != nil {
		return nil, fmt.Errorf("invite: list by resource: %w", err)
	}
	defer rows.Close()

	var invites []Invite
	for rows.Next() {
		var inv Invite
		var kind string
		var levels []int16
		if err := rows.Scan(
			&inv.Code, &kind, &inv.Resource.ID, &levels, &inv.MaxUses,
			&inv.UsageCount, &inv.ExpiresAt, &inv.CreatedBy, &inv.CreatedAt,
		); err != nil {
			return nil, err
		}
		inv.Resource.Kind = resource.Kind(kind)
		inv.Levels = intsToLevels(levels)
		invites = append(invites, inv)
	}
	return invites, rows.Err()
}

func levelsToInts(levels []access.Level) []int16 {
	out := make([]int16, len(levels))
	for i, l := range levels {
		out[i] = int16(l)
	}
	return out
}

func intsToLevels(ints []int16) []access.Level {
	out := make([]access.Level, len(ints))
	for i, v := range ints {
		out[i] = access.Level(v)
	}
	return out
}
