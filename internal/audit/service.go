package audit

import (
	"context"
	"fmt"

	"github.com/herald-labs/herald/internal/shared"
)

// Repository reads audit_logs windows.
type Repository interface {
	Window(ctx context.Context, filters TimelineFilters, offset, limit int) ([]TimelineRow, error)
}

// Result wraps timeline rows with paging information.
type Result struct {
	Rows   []TimelineRow `json:"rows"`
	Paging PagingInfo    `json:"paging"`
}

// Service coordinates audit trail reads. Operator only.
type Service struct {
	repo Repository
}

// NewService constructs a new Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline fetches a page of audit entries for an operator.
func (s *Service) Timeline(ctx context.Context, actor *shared.Principal, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	if !actor.Operator {
		return Result{}, fmt.Errorf("%w: audit trail requires an operator", shared.ErrForbidden)
	}

	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize

	// Fetch one row beyond the page to learn whether a next page exists.
	rows, err := s.repo.Window(ctx, filters, offset, pageSize+1)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}

	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}
