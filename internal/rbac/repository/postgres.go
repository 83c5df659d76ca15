package repository

import (
	"context"
	"database/sql"
	"time"

	"credential-control-plane/internal/rbac/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an RBAC repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// ResolveSubject resolves roles and permissions in one join so the read path
// costs a single round trip on a cache miss.
func (r *PostgresRepository) ResolveSubject(ctx context.Context, subjectID string) ([]string, []string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT r.name, p.resource, p.action
		FROM role_assignments ra
		JOIN roles r ON r.id = ra.role_id AND r.deleted_at IS NULL
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		LEFT JOIN permissions p ON p.id = rp.permission_id AND p.deleted_at IS NULL
		WHERE ra.subject_id = $1
		  AND (ra.expires_at IS NULL OR ra.expires_at > now())`, subjectID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	roleSet := make(map[string]struct{})
	permSet := make(map[string]struct{})
	roles := []string{}
	permissions := []string{}
	for rows.Next() {
		var role string
		var resource, action sql.NullString
		if err := rows.Scan(&role, &resource, &action); err != nil {
			return nil, nil, err
		}
		if _, seen := roleSet[role]; !seen {
			roleSet[role] = struct{}{}
			roles = append(roles, role)
		}
		if resource.Valid && action.Valid {
			name := resource.String + ":" + action.String
			if _, seen := permSet[name]; !seen {
				permSet[name] = struct{}{}
				permissions = append(permissions, name)
			}
		}
	}
	return roles, permissions, rows.Err()
}

// CreateRole persists a new role.
func (r *PostgresRepository) CreateRole(ctx context.Context, role *domain.Role) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO roles (id, name, system) VALUES ($1, $2, $3)`,
		role.ID, role.Name, role.System)
	return err
}

// DeleteRole soft-deletes the role. System roles are refused.
func (r *PostgresRepository) DeleteRole(ctx context.Context, roleID string) error {
	var system bool
	err := r.db.QueryRowContext(ctx, `SELECT system FROM roles WHERE id = $1 AND deleted_at IS NULL`, roleID).Scan(&system)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return err
	}
	if system {
		return domain.ErrSystemRole
	}
	_, err = r.db.ExecContext(ctx, `UPDATE roles SET deleted_at = now() WHERE id = $1`, roleID)
	return err
}

// CreatePermission persists a new permission definition.
func (r *PostgresRepository) CreatePermission(ctx context.Context, p *domain.Permission) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO permissions (id, resource, action) VALUES ($1, $2, $3)`,
		p.ID, p.Resource, p.Action)
	return err
}

// DeletePermission soft-deletes the permission definition.
func (r *PostgresRepository) DeletePermission(ctx context.Context, permissionID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE permissions SET deleted_at = now() WHERE id = $1`, permissionID)
	return err
}

// AssignRole links the subject to the role, replacing any existing
// assignment's expiry.
func (r *PostgresRepository) AssignRole(ctx context.Context, a *domain.Assignment) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	var expires sql.NullTime
	if a.ExpiresAt != nil {
		expires = sql.NullTime{Time: *a.ExpiresAt, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO role_assignments (subject_id, role_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (subject_id, role_id) DO UPDATE SET expires_at = EXCLUDED.expires_at`,
		a.SubjectID, a.RoleID, expires, a.CreatedAt)
	return err
}

// UnassignRole removes the subject's assignment. Missing rows are not an error.
func (r *PostgresRepository) UnassignRole(ctx context.Context, subjectID, roleID string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM role_assignments WHERE subject_id = $1 AND role_id = $2`, subjectID, roleID)
	return err
}

// GrantPermission adds the permission to the role. Duplicate grants are a no-op.
func (r *PostgresRepository) GrantPermission(ctx context.Context, roleID, permissionID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO role_permissions (role_id, permission_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`, roleID, permissionID)
	return err
}

// RevokePermission removes the permission from the role.
func (r *PostgresRepository) RevokePermission(ctx context.Context, roleID, permissionID string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
	return err
}

// SubjectsWithRole lists subjects holding a live assignment of the role.
func (r *PostgresRepository) SubjectsWithRole(ctx context.Context, roleID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT subject_id FROM role_assignments
		WHERE role_id = $1 AND (expires_at IS NULL OR expires_at > now())`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subjects []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		subjects = append(subjects, id)
	}
	return subjects, rows.Err()
}
