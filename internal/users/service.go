package users

import (
	"context"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListActivePartners(ctx context.Context) ([]User, error)
	ListNotifiablePartners(ctx context.Context) ([]User, error)
}

// Service handles partner lookup for the automation passes.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// ListActivePartners returns the round-robin assignment pool.
func (s *Service) ListActivePartners(ctx context.Context) ([]User, error) {
	return s.repo.ListActivePartners(ctx)
}

// ListNotifiablePartners returns the transition notification recipients.
func (s *Service) ListNotifiablePartners(ctx context.Context) ([]User, error) {
	return s.repo.ListNotifiablePartners(ctx)
}
