// seed inserts development sample data for local testing.
// Idempotent: skips inserts if the dev user (dev@example.com) already exists.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"credential-control-plane/internal/config"
	"credential-control-plane/internal/db"
	"credential-control-plane/internal/security"
	userdomain "credential-control-plane/internal/user/domain"
	userrepo "credential-control-plane/internal/user/repository"
)

const (
	devUserEmail = "dev@example.com"
	devPassword  = "password123"

	devUserID      = "11111111-1111-1111-1111-111111111111"
	adminRoleID    = "22222222-2222-2222-2222-222222222222"
	userRoleID     = "22222222-2222-2222-2222-222222222223"
	sessionReadID  = "33333333-3333-3333-3333-333333333331"
	sessionWriteID = "33333333-3333-3333-3333-333333333332"
	rbacManageID   = "33333333-3333-3333-3333-333333333333"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	conn, err := db.Open(cfg.DatabaseURL, db.PoolConfig{MaxOpenConns: 2, MaxIdleTime: time.Minute})
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	users := userrepo.NewPostgresRepository(conn)
	existing, err := users.GetByEmail(ctx, devUserEmail)
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
	if existing != nil {
		fmt.Println("seed: dev user already present, nothing to do")
		return
	}

	hasher := security.NewHasher(security.Argon2Params{}, 0)
	passwordHash, err := hasher.Hash(ctx, []byte(devPassword))
	if err != nil {
		log.Fatalf("seed: hash password: %v", err)
	}
	if err := users.Create(ctx, &userdomain.User{
		ID:           devUserID,
		Email:        devUserEmail,
		PasswordHash: passwordHash,
		Status:       userdomain.UserStatusActive,
	}); err != nil {
		log.Fatalf("seed: create user: %v", err)
	}

	if err := seedRBAC(ctx, conn); err != nil {
		log.Fatalf("seed: %v", err)
	}
	fmt.Printf("seed: created %s (password %q) with admin role\n", devUserEmail, devPassword)
}

func seedRBAC(ctx context.Context, conn *sql.DB) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	roles := []struct {
		id, name string
		system   bool
	}{
		{adminRoleID, "admin", true},
		{userRoleID, "user", true},
	}
	for _, r := range roles {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO roles (id, name, system) VALUES ($1, $2, $3) ON CONFLICT (name) DO NOTHING`,
			r.id, r.name, r.system); err != nil {
			return err
		}
	}

	perms := []struct {
		id, resource, action string
	}{
		{sessionReadID, "sessions", "read"},
		{sessionWriteID, "sessions", "write"},
		{rbacManageID, "rbac", "manage"},
	}
	for _, p := range perms {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO permissions (id, resource, action) VALUES ($1, $2, $3) ON CONFLICT (resource, action) DO NOTHING`,
			p.id, p.resource, p.action); err != nil {
			return err
		}
	}

	grants := []struct{ roleID, permID string }{
		{adminRoleID, sessionReadID},
		{adminRoleID, sessionWriteID},
		{adminRoleID, rbacManageID},
		{userRoleID, sessionReadID},
	}
	for _, g := range grants {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			g.roleID, g.permID); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO role_assignments (subject_id, role_id) VALUES ($1, $2)`,
		devUserID, adminRoleID); err != nil {
		return err
	}

	return tx.Commit()
}
