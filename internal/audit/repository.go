package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository over audit_logs.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) Window(ctx context.Context, filters TimelineFilters, offset, limit int) ([]TimelineRow, error) {
	var (
		clauses []string
		args    []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !filters.From.IsZero() {
		clauses = append(clauses, "occurred_at >= "+arg(filters.From))
	}
	if !filters.To.IsZero() {
		clauses = append(clauses, "occurred_at <= "+arg(filters.To))
	}
	if filters.ActorID > 0 {
		clauses = append(clauses, "actor_id = "+arg(filters.ActorID))
	}
	if entity := strings.TrimSpace(filters.Entity); entity != "" {
		clauses = append(clauses, "entity = "+arg(entity))
	}
	if action := strings.TrimSpace(filters.Action); action != "" {
		clauses = append(clauses, "action = "+arg(action))
	}

	query := "SELECT occurred_at, actor_id, action, entity, entity_id, meta FROM audit_logs"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY occurred_at DESC OFFSET " + arg(offset) + " LIMIT " + arg(limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: timeline window: %w", err)
	}
	defer rows.Close()

	var out []TimelineRow
	for rows.Next() {
		var row TimelineRow
		var meta []byte
		if err := rows.Scan(&row.At, &row.ActorID, &row.Action, &row.Entity, &row.EntityID, &meta); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &row.Meta)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
