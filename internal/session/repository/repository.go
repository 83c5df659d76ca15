package repository

import (
	"context"
	"errors"

	"credential-control-plane/internal/session/domain"
)

// ErrTokenRotated is returned by Rotate when the token was already revoked
// or rotated by a concurrent request. Exactly one of two concurrent rotations
// of the same token succeeds; the other observes this error.
var ErrTokenRotated = errors.New("refresh token already rotated")

// Repository defines persistence for refresh tokens.
type Repository interface {
	// CreateForLogin inserts the record and stamps the subject's last login
	// in one transaction, the login path's single persistence step.
	CreateForLogin(ctx context.Context, t *domain.RefreshToken) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error)
	// Rotate atomically revokes the token identified by oldID and persists
	// successor in the same transaction. Returns ErrTokenRotated if the old
	// token is no longer active.
	Rotate(ctx context.Context, oldID string, successor *domain.RefreshToken) error
	Revoke(ctx context.Context, id string) error
	// RevokeAllBySubject revokes every active token for the subject and
	// returns how many rows were revoked.
	RevokeAllBySubject(ctx context.Context, subjectID string) (int64, error)
}
