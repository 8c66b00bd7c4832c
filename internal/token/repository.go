package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/herald-labs/herald/internal/platform/db"
)

var (
	// ErrNotFound indicates the token or request does not exist.
	ErrNotFound = errors.New("token: not found")
)

// Repository persists system access tokens and token requests.
type Repository interface {
	Create(ctx context.Context, t Token) error
	Get(ctx context.Context, id string) (*Token, error)
	GetByKeyID(ctx context.Context, keyID string) (*Token, error)
	List(ctx context.Context, requesterID *int64) ([]Token, error)
	// ListBatch pages tokens by id for the quota reset walk.
	ListBatch(ctx context.Context, afterID string, limit int) ([]Token, error)
	Update(ctx context.Context, id string, updates map[string]any) error
	Delete(ctx context.Context, id string) (bool, error)
	// IncrementUsage bumps calls and total_calls in a single atomic update.
	IncrementUsage(ctx context.Context, id string) error
	// ResetCalls zeroes calls and advances last_reset_at, but only when the
	// stored last_reset_at predates periodStart. Returns whether a row changed.
	ResetCalls(ctx context.Context, id string, periodStart time.Time) (bool, error)

	CreateRequest(ctx context.Context, r Request) error
	GetRequest(ctx context.Context, id string) (*Request, error)
	ListRequests(ctx context.Context, requesterID *int64) ([]Request, error)
	DecideRequest(ctx context.Context, r Request) error
	// ApproveRequest persists the minted token and the approved request as one
	// transaction. ErrNotFound means the request already reached a terminal
	// state and nothing was written.
	ApproveRequest(ctx context.Context, t Token, r Request) error

	RequesterExists(ctx context.Context, id int64) (bool, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository backed by the provided pool.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const tokenColumns = `id, key_id, secret_hash, plaintext_echo, description, max_calls, calls, total_calls, scopes, expires_at, last_reset_at, requester_id, created_at, updated_at`

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (r *repository) Create(ctx context.Context, t Token) error {
	return createToken(ctx, r.pool, t)
}

func createToken(ctx context.Context, q execer, t Token) error {
	_, err := q.Exec(ctx, `
		INSERT INTO system_tokens (id, key_id, secret_hash, plaintext_echo, description, max_calls, calls, total_calls, scopes, expires_at, last_reset_at, requester_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, 0, $7, $8, $9, $10, $11, $11)
	`, t.ID, t.KeyID, t.SecretHash, t.PlaintextEcho, t.Description, t.MaxCalls, t.Scopes, t.ExpiresAt, t.LastResetAt, t.RequesterID, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("token: create: %w", err)
	}
	return nil
}

func (r *repository) Get(ctx context.Context, id string) (*Token, error) {
	return r.scanOne(ctx, fmt.Sprintf("SELECT %s FROM system_tokens WHERE id = $1", tokenColumns), id)
}

func (r *repository) GetByKeyID(ctx context.Context, keyID string) (*Token, error) {
	return r.scanOne(ctx, fmt.Sprintf("SELECT %s FROM system_tokens WHERE key_id = $1", tokenColumns), keyID)
}

func (r *repository) scanOne(ctx context.Context, query string, arg any) (*Token, error) {
	var t Token
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&t.ID, &t.KeyID, &t.SecretHash, &t.PlaintextEcho, &t.Description,
		&t.MaxCalls, &t.Calls, &t.TotalCalls, &t.Scopes, &t.ExpiresAt,
		&t.LastResetAt, &t.RequesterID, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("token: get: %w", err)
	}
	return &t, nil
}

func (r *repository) List(ctx context.Context, requesterID *int64) ([]Token, error) {
	query := fmt.Sprintf("SELECT %s FROM system_tokens ORDER BY created_at DESC", tokenColumns)
	args := []any{}
	if requesterID != nil {
		query = fmt.Sprintf("SELECT %s FROM system_tokens WHERE requester_id = $1 ORDER BY created_at DESC", tokenColumns)
		args = append(args, *requesterID)
	}
	return r.scanMany(ctx, query, args...)
}

func (r *repository) ListBatch(ctx context.Context, afterID string, limit int) ([]Token, error) {
	query := fmt.Sprintf("SELECT %s FROM system_tokens WHERE id > $1 ORDER BY id LIMIT $2", tokenColumns)
	return r.scanMany(ctx, query, afterID, limit)
}

func (r *repository) scanMany(ctx context.Context, query string, args ...any) ([]Token, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("token: list: %w", err)
	}
	defer rows.Close()

	var tokens []Token
	for rows.Next() {
		var t Token
		if err := rows.Scan(
			&t.ID, &t.KeyID, &t.SecretHash, &t.PlaintextEcho, &t.Description,
			&t.MaxCalls, &t.Calls, &t.TotalCalls, &t.Scopes, &t.ExpiresAt,
			&t.LastResetAt, &t.RequesterID, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func (r *repository) Update(ctx context.Context, id string, updates map[string]any) error {
	query := "UPDATE system_tokens SET updated_at = NOW()"
	var args []any
	argPos := 1

	for _, col := range []string{"description", "max_calls", "scopes", "expires_at", "requester_id"} {
		if v, ok := updates[col]; ok {
			query += fmt.Sprintf(", %s = $%d", col, argPos)
			args = append(args, v)
			argPos++
		}
	}

	query += fmt.Sprintf(" WHERE id = $%d", argPos)
	args = append(args, id)

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("token: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, "DELETE FROM system_tokens WHERE id = $1", id)
	if err != nil {
		return false, fmt.Errorf("token: delete: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repository) IncrementUsage(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE system_tokens
		SET calls = calls + 1, total_calls = total_calls + 1, updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("token: increment usage: %w", err)
	}
	return nil
}

func (r *repository) ResetCalls(ctx context.Context, id string, periodStart time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE system_tokens
		SET calls = 0, last_reset_at = $2, updated_at = NOW()
		WHERE id = $1 AND last_reset_at < $2
	`, id, periodStart)
	if err != nil {
		return false, fmt.Errorf("token: reset calls: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repository) CreateRequest(ctx context.Context, req Request) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO token_requests (id, requester_id, max_calls, justification, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, req.ID, req.RequesterID, req.MaxCalls, req.Justification, string(req.Status), req.CreatedAt)
	if err != nil {
		return fmt.Errorf("token: create request: %w", err)
	}
	return nil
}

func (r *repository) GetRequest(ctx context.Context, id string) (*Request, error) {
	var req Request
	var status string
	err := r.pool.QueryRow(ctx, `
		SELECT id, requester_id, max_calls, justification, status, token_id, token_plaintext, created_at, decided_at, decided_by
		FROM token_requests WHERE id = $1
	`, id).Scan(&req.ID, &req.RequesterID, &req.MaxCalls, &req.Justification, &status,
		&req.TokenID, &req.TokenPlaintext, &req.CreatedAt, &req.DecidedAt, &req.DecidedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("token: get request: %w", err)
	}
	req.Status = RequestStatus(status)
	return &req, nil
}

func (r *repository) ListRequests(ctx context.Context, requesterID *int64) ([]Request, error) {
	query := `
		SELECT id, requester_id, max_calls, justification, status, token_id, token_plaintext, created_at, decided_at, decided_by
		FROM token_requests ORDER BY created_at DESC`
	args := []any{}
	if requesterID != nil {
		query = `
			SELECT id, requester_id, max_calls, justification, status, token_id, token_plaintext, created_at, decided_at, decided_by
			FROM token_requests WHERE requester_id = $1 ORDER BY created_at DESC`
		args = append(args, *requesterID)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("token: list requests: %w", err)
	}
	defer rows.Close()

	var requests []Request
	for rows.Next() {
		var req Request
		var status string
		if err := rows.Scan(&req.ID, &req.RequesterID, &req.MaxCalls, &req.Justification, &status,
			&req.TokenID, &req.TokenPlaintext, &req.CreatedAt, &req.DecidedAt, &req.DecidedBy); err != nil {
			return nil, err
		}
		req.Status = RequestStatus(status)
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

func (r *repository) DecideRequest(ctx context.Context, req Request) error {
	return decideRequest(ctx, r.pool, req)
}

// ApproveRequest writes the token and the decision in one RepeatableRead
// transaction, so a request that lost the decision race leaves no token.
func (r *repository) ApproveRequest(ctx context.Context, t Token, req Request) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := createToken(ctx, tx, t); err != nil {
			return err
		}
		return decideRequest(ctx, tx, req)
	})
}

func decideRequest(ctx context.Context, q execer, req Request) error {
	// Guarding on status = pending makes the terminal states final even
	// under concurrent decisions.
	tag, err := q.Exec(ctx, `
		UPDATE token_requests
		SET status = $2, token_id = $3, token_plaintext = $4, decided_at = $5, decided_by = $6
		WHERE id = $1 AND status = 'pending'
	`, req.ID, string(req.Status), req.TokenID, req.TokenPlaintext, req.DecidedAt, req.DecidedBy)
	if err != nil {
		return fmt.Errorf("token: decide request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) RequesterExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("token: requester exists: %w", err)
	}
	return exists, nil
}
