package users

import (
	"context"
	"strings"

	"github.com/plantops/plantops/internal/permissions"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	FindByID(ctx context.Context, id int64) (*User, error)
	ListUsers(ctx context.Context, filters ListFilters) ([]User, error)
}

// Service handles user business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// ListUsers returns users matching filters. An empty level lists every level.
func (s *Service) ListUsers(ctx context.Context, filters ListFilters) ([]User, error) {
	if raw := strings.TrimSpace(filters.Level); raw != "" {
		level, err := permissions.ParseAccessLevel(raw)
		if err != nil {
			return nil, err
		}
		filters.Level = level.String()
	}
	list, err := s.repo.ListUsers(ctx, filters)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []User{}
	}
	return list, nil
}

// Get returns a single user.
func (s *Service) Get(ctx context.Context, id int64) (*User, error) {
	return s.repo.FindByID(ctx, id)
}
