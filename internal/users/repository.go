package users

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the user does not exist.
var ErrNotFound = errors.New("users: not found")

// Directory resolves principals by their stable identifiers.
type Directory interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewDirectory constructs a Directory backed by the users table.
func NewDirectory(pool *pgxpool.Pool) Directory {
	return &repository{pool: pool}
}

func (r *repository) FindByEmail(ctx context.Context, email string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var u User
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, name, is_active, is_operator, created_at, updated_at
		FROM users
		WHERE lower(email) = $1
	`, email).Scan(&u.ID, &u.Email, &u.Name, &u.IsActive, &u.IsOperator, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

