package service

import (
	"context"
	"time"

	"credential-control-plane/internal/permcache"
	"credential-control-plane/internal/rbac/domain"
)

// Repo is the minimal RBAC repository needed by the service.
type Repo interface {
	ResolveSubject(ctx context.Context, subjectID string) (roles, permissions []string, err error)
	DeleteRole(ctx context.Context, roleID string) error
	AssignRole(ctx context.Context, a *domain.Assignment) error
	UnassignRole(ctx context.Context, subjectID, roleID string) error
	GrantPermission(ctx context.Context, roleID, permissionID string) error
	RevokePermission(ctx context.Context, roleID, permissionID string) error
	DeletePermission(ctx context.Context, permissionID string) error
	SubjectsWithRole(ctx context.Context, roleID string) ([]string, error)
}

// Cache is the permission cache surface needed by the service.
type Cache interface {
	Get(ctx context.Context, subjectID string) (*permcache.Snapshot, error)
	Set(ctx context.Context, subjectID string, snap *permcache.Snapshot, ttl time.Duration) error
	Invalidate(ctx context.Context, subjectID string) error
	InvalidateAll(ctx context.Context) error
}

// Service resolves subject authorization with a cache-aside read path and
// keeps the cache coherent across mutations. The relational store stays the
// source of truth; a cache failure on the read path degrades to a direct
// resolve rather than failing the request.
type Service struct {
	repo     Repo
	cache    Cache
	cacheTTL time.Duration
}

func New(repo Repo, cache Cache, cacheTTL time.Duration) *Service {
	return &Service{repo: repo, cache: cache, cacheTTL: cacheTTL}
}

// Resolve returns the subject's roles and permissions, from cache when
// possible. On a miss it resolves relationally and repopulates the cache.
// A Set racing a concurrent Invalidate can reinstate a stale snapshot; the
// TTL bounds how long it survives.
func (s *Service) Resolve(ctx context.Context, subjectID string) (*permcache.Snapshot, error) {
	snap, err := s.cache.Get(ctx, subjectID)
	if err == nil && snap != nil {
		return snap, nil
	}

	roles, permissions, err := s.repo.ResolveSubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	snap = &permcache.Snapshot{Roles: roles, Permissions: permissions}
	// Best effort; the relational answer is already in hand.
	_ = s.cache.Set(ctx, subjectID, snap, s.cacheTTL)
	return snap, nil
}

// AssignRole grants the role to the subject and invalidates their snapshot.
func (s *Service) AssignRole(ctx context.Context, a *domain.Assignment) error {
	if err := s.repo.AssignRole(ctx, a); err != nil {
		return err
	}
	return s.cache.Invalidate(ctx, a.SubjectID)
}

// UnassignRole removes the subject's role and invalidates their snapshot.
func (s *Service) UnassignRole(ctx context.Context, subjectID, roleID string) error {
	if err := s.repo.UnassignRole(ctx, subjectID, roleID); err != nil {
		return err
	}
	return s.cache.Invalidate(ctx, subjectID)
}

// GrantPermission adds the permission to the role and invalidates every
// subject currently holding the role.
func (s *Service) GrantPermission(ctx context.Context, roleID, permissionID string) error {
	if err := s.repo.GrantPermission(ctx, roleID, permissionID); err != nil {
		return err
	}
	return s.invalidateRole(ctx, roleID)
}

// RevokePermission removes the permission from the role and invalidates
// every subject currently holding the role.
func (s *Service) RevokePermission(ctx context.Context, roleID, permissionID string) error {
	if err := s.repo.RevokePermission(ctx, roleID, permissionID); err != nil {
		return err
	}
	return s.invalidateRole(ctx, roleID)
}

// DeleteRole soft-deletes the role and invalidates its holders.
func (s *Service) DeleteRole(ctx context.Context, roleID string) error {
	subjects, err := s.repo.SubjectsWithRole(ctx, roleID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteRole(ctx, roleID); err != nil {
		return err
	}
	for _, id := range subjects {
		if err := s.cache.Invalidate(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// DeletePermission soft-deletes a permission definition. The definition can
// belong to any number of roles, so the whole cache is cleared.
func (s *Service) DeletePermission(ctx context.Context, permissionID string) error {
	if err := s.repo.DeletePermission(ctx, permissionID); err != nil {
		return err
	}
	return s.cache.InvalidateAll(ctx)
}

func (s *Service) invalidateRole(ctx context.Context, roleID string) error {
	subjects, err := s.repo.SubjectsWithRole(ctx, roleID)
	if err != nil {
		return err
	}
	for _, id := range subjects {
		if err := s.cache.Invalidate(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
