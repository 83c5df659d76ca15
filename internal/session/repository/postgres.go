package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"credential-control-plane/internal/session/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a refresh token repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const tokenColumns = `id, subject_id, token_hash, device_info, expires_at, revoked_at, created_at`

const insertTokenSQL = `
	INSERT INTO refresh_tokens (id, subject_id, token_hash, device_info, expires_at, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)`

const insertAuditSQL = `
	INSERT INTO audit_log (id, subject_id, event, device_info)
	VALUES ($1, $2, $3, $4)`

// CreateForLogin inserts the refresh record and updates the subject's
// last-login timestamp in one transaction.
func (r *PostgresRepository) CreateForLogin(ctx context.Context, t *domain.RefreshToken) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	device := sql.NullString{String: t.DeviceInfo, Valid: t.DeviceInfo != ""}
	if _, err := tx.ExecContext(ctx, insertTokenSQL,
		t.ID, t.SubjectID, t.TokenHash, device, t.ExpiresAt, t.CreatedAt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET last_login_at = now(), updated_at = now() WHERE id = $1`, t.SubjectID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, insertAuditSQL,
		uuid.New().String(), t.SubjectID, "login", device); err != nil {
		return err
	}
	return tx.Commit()
}

// GetByTokenHash returns the token record for the hash, or nil if not found.
// Revoked and expired records are returned as-is; classification is the
// caller's job since each case maps to a different client-visible error.
func (r *PostgresRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM refresh_tokens WHERE token_hash = $1`, tokenHash)
	return scanToken(row)
}

// Rotate revokes the token oldID and inserts its successor in one
// transaction. The revoke is a conditional update on revoked_at IS NULL:
// when two requests race on the same token, exactly one update claims the
// row and the loser gets ErrTokenRotated with nothing persisted.
func (r *PostgresRepository) Rotate(ctx context.Context, oldID string, successor *domain.RefreshToken) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked_at = now()
		WHERE id = $1 AND revoked_at IS NULL`, oldID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrTokenRotated
	}

	if successor.CreatedAt.IsZero() {
		successor.CreatedAt = time.Now().UTC()
	}
	device := sql.NullString{String: successor.DeviceInfo, Valid: successor.DeviceInfo != ""}
	if _, err := tx.ExecContext(ctx, insertTokenSQL,
		successor.ID, successor.SubjectID, successor.TokenHash, device, successor.ExpiresAt, successor.CreatedAt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, insertAuditSQL,
		uuid.New().String(), successor.SubjectID, "refresh", device); err != nil {
		return err
	}
	return tx.Commit()
}

// Revoke marks the token revoked. Already-revoked and missing tokens are not
// an error; revocation is idempotent.
func (r *PostgresRepository) Revoke(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked_at = now()
		WHERE id = $1 AND revoked_at IS NULL`, id)
	return err
}

// RevokeAllBySubject revokes every active token for the subject.
func (r *PostgresRepository) RevokeAllBySubject(ctx context.Context, subjectID string) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked_at = now()
		WHERE subject_id = $1 AND revoked_at IS NULL`, subjectID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, insertAuditSQL,
		uuid.New().String(), subjectID, "revoke_all", sql.NullString{}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func scanToken(row *sql.Row) (*domain.RefreshToken, error) {
	var t domain.RefreshToken
	var device sql.NullString
	var revoked sql.NullTime
	err := row.Scan(&t.ID, &t.SubjectID, &t.TokenHash, &device, &t.ExpiresAt, &revoked, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if device.Valid {
		t.DeviceInfo = device.String
	}
	if revoked.Valid {
		at := revoked.Time
		t.RevokedAt = &at
	}
	return &t, nil
}
