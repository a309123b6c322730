package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/plantops/plantops/internal/shared"
)

// Repository reads the append-only audit store.
type Repository interface {
	CountEntries(ctx context.Context, filters Filters) (int, error)
	ListEntries(ctx context.Context, filters Filters, limit, offset int) ([]Entry, error)
}

// Service answers paginated audit queries. It never writes.
type Service struct {
	repo Repository
}

// NewService creates an audit query service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Query returns one page of entries matching every filter, newest first.
// A page past the last one yields no entries and valid pagination.
func (s *Service) Query(ctx context.Context, filters Filters, page, pageSize int) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	filters = normalize(filters)
	total, err := s.repo.CountEntries(ctx, filters)
	if err != nil {
		return Result{}, fmt.Errorf("audit: count entries: %w", err)
	}
	paging := shared.NewPagination(page, pageSize, total)
	if total == 0 || paging.OutOfRange() {
		return Result{Entries: []Entry{}, Pagination: paging}, nil
	}
	entries, err := s.repo.ListEntries(ctx, filters, paging.PageSize, paging.Offset())
	if err != nil {
		return Result{}, fmt.Errorf("audit: list entries: %w", err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return Result{Entries: entries, Pagination: paging}, nil
}

func normalize(f Filters) Filters {
	return Filters{
		Level:    strings.ToLower(strings.TrimSpace(f.Level)),
		Resource: strings.TrimSpace(f.Resource),
		Action:   strings.TrimSpace(f.Action),
		ActorID:  f.ActorID,
	}
}
