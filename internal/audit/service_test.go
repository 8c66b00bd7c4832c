package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/herald-labs/herald/internal/shared"
)

type memoryAuditRepo struct {
	rows []TimelineRow
}

func (r *memoryAuditRepo) Window(ctx context.Context, filters TimelineFilters, offset, limit int) ([]TimelineRow, error) {
	var matched []TimelineRow
	for _, row := range r.rows {
		if filters.Entity != "" && row.Entity != filters.Entity {
			continue
		}
		if filters.Action != "" && row.Action != filters.Action {
			continue
		}
		if filters.ActorID > 0 && row.ActorID != filters.ActorID {
			continue
		}
		matched = append(matched, row)
	}
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func seedRows(n int) []TimelineRow {
	rows := make([]TimelineRow, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, TimelineRow{
			At:       time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour),
			ActorID:  1,
			Action:   "token.issue",
			Entity:   "system_token",
			EntityID: "tok",
		})
	}
	return rows
}

var operator = &shared.Principal{ID: 1, Operator: true}

func TestTimelineRequiresOperator(t *testing.T) {
	svc := NewService(&memoryAuditRepo{})
	_, err := svc.Timeline(context.Background(), &shared.Principal{ID: 2}, TimelineFilters{})
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestTimelinePaging(t *testing.T) {
	svc := NewService(&memoryAuditRepo{rows: seedRows(25)})
	ctx := context.Background()

	first, err := svc.Timeline(ctx, operator, TimelineFilters{})
	require.NoError(t, err)
	require.Len(t, first.Rows, 20)
	require.True(t, first.Paging.HasNext)
	require.Equal(t, 2, first.Paging.NextPage)
	require.Zero(t, first.Paging.PrevPage)

	second, err := svc.Timeline(ctx, operator, TimelineFilters{Page: 2})
	require.NoError(t, err)
	require.Len(t, second.Rows, 5)
	require.False(t, second.Paging.HasNext)
	require.Equal(t, 1, second.Paging.PrevPage)
}

func TestTimelineClampsPageSize(t *testing.T) {
	svc := NewService(&memoryAuditRepo{rows: seedRows(60)})

	result, err := svc.Timeline(context.Background(), operator, TimelineFilters{PageSize: 500})
	require.NoError(t, err)
	require.Len(t, result.Rows, 50)
}

func TestTimelineFilters(t *testing.T) {
	repo := &memoryAuditRepo{rows: []TimelineRow{
		{ActorID: 1, Action: "token.issue", Entity: "system_token"},
		{ActorID: 2, Action: "share", Entity: "topic"},
	}}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), operator, TimelineFilters{Entity: "topic"})
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	require.Equal(t, "share", result.Rows[0].Action)
}
