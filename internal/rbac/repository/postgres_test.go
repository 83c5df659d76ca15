package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"credential-control-plane/internal/rbac/domain"
)

func TestPostgresRepository_ResolveSubject(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	repo := NewPostgresRepository(db)

	rows := sqlmock.NewRows([]string{"name", "resource", "action"}).
		AddRow("admin", "report", "read").
		AddRow("admin", "report", "write").
		AddRow("auditor", "report", "read").
		AddRow("viewer", nil, nil)
	mock.ExpectQuery(`SELECT r\.name, p\.resource, p\.action`).
		WithArgs("u1").
		WillReturnRows(rows)

	roles, permissions, err := repo.ResolveSubject(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ResolveSubject: %v", err)
	}
	if len(roles) != 3 {
		t.Errorf("roles: got %v, want admin/auditor/viewer", roles)
	}
	if len(permissions) != 2 {
		t.Errorf("permissions should dedupe report:read, got %v", permissions)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestPostgresRepository_ResolveSubjectNoAssignments(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	repo := NewPostgresRepository(db)

	mock.ExpectQuery(`SELECT r\.name, p\.resource, p\.action`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"name", "resource", "action"}))

	roles, permissions, err := repo.ResolveSubject(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ResolveSubject: %v", err)
	}
	if roles == nil || permissions == nil {
		t.Error("empty resolution should return empty slices, not nil")
	}
}

func TestPostgresRepository_DeleteRoleRefusesSystem(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	repo := NewPostgresRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT system FROM roles WHERE id = $1 AND deleted_at IS NULL`)).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"system"}).AddRow(true))

	if err := repo.DeleteRole(context.Background(), "r1"); !errors.Is(err, domain.ErrSystemRole) {
		t.Errorf("DeleteRole on system role: want ErrSystemRole, got %v", err)
	}
}

func TestPostgresRepository_DeleteRoleSoftDeletes(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	repo := NewPostgresRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT system FROM roles`)).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"system"}).AddRow(false))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE roles SET deleted_at = now() WHERE id = $1`)).
		WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.DeleteRole(context.Background(), "r1"); err != nil {
		t.Fatalf("DeleteRole: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestPostgresRepository_SubjectsWithRole(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	repo := NewPostgresRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT subject_id FROM role_assignments`)).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"subject_id"}).AddRow("u1").AddRow("u2"))

	subjects, err := repo.SubjectsWithRole(context.Background(), "r1")
	if err != nil {
		t.Fatalf("SubjectsWithRole: %v", err)
	}
	if len(subjects) != 2 || subjects[0] != "u1" {
		t.Errorf("SubjectsWithRole: got %v", subjects)
	}
}
