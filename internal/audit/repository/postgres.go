package repository

import (
	"context"
	"database/sql"

	"credential-control-plane/internal/audit/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit trail repository backed by the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const listBySubjectSQL = `
	SELECT id, subject_id, event, device_info, created_at
	FROM audit_log
	WHERE subject_id = $1
	ORDER BY created_at DESC
	LIMIT $2 OFFSET $3`

// ListBySubject returns the subject's audit entries, newest first.
func (r *PostgresRepository) ListBySubject(ctx context.Context, subjectID string, limit, offset int32) ([]*domain.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, listBySubjectSQL, subjectID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Entry
	for rows.Next() {
		var e domain.Entry
		var device sql.NullString
		if err := rows.Scan(&e.ID, &e.SubjectID, &e.Event, &device, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.DeviceInfo = device.String
		out = append(out, &e)
	}
	return out, rows.Err()
}
