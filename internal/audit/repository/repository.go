package repository

import (
	"context"

	"credential-control-plane/internal/audit/domain"
)

// Repository reads the audit trail. Writes happen inside the session
// repository's transactions, never through this interface.
type Repository interface {
	ListBySubject(ctx context.Context, subjectID string, limit, offset int32) ([]*domain.Entry, error)
}
