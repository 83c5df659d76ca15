package repository

import (
	"context"

	"credential-control-plane/internal/rbac/domain"
)

// Repository defines persistence for roles, permissions, and assignments.
type Repository interface {
	// ResolveSubject returns the subject's role names and permission names
	// (resource:action), honoring soft deletes and assignment expiry.
	ResolveSubject(ctx context.Context, subjectID string) (roles, permissions []string, err error)

	CreateRole(ctx context.Context, r *domain.Role) error
	DeleteRole(ctx context.Context, roleID string) error
	CreatePermission(ctx context.Context, p *domain.Permission) error
	DeletePermission(ctx context.Context, permissionID string) error

	AssignRole(ctx context.Context, a *domain.Assignment) error
	UnassignRole(ctx context.Context, subjectID, roleID string) error
	GrantPermission(ctx context.Context, roleID, permissionID string) error
	RevokePermission(ctx context.Context, roleID, permissionID string) error

	// SubjectsWithRole lists subjects currently assigned the role, so the
	// caller can invalidate their cached snapshots after a role mutation.
	SubjectsWithRole(ctx context.Context, roleID string) ([]string, error)
}
