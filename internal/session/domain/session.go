package domain

import "time"

// RefreshToken is the persisted form of an opaque refresh token. Only the
// SHA-256 hash of the secret is stored; the raw secret exists client-side
// only. A token whose RevokedAt is set can never authenticate again, which
// is what makes rotation single-use.
type RefreshToken struct {
	ID         string
	SubjectID  string
	TokenHash  string
	DeviceInfo string
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	CreatedAt  time.Time
}

// Expired reports whether the token's lifetime has passed at now.
func (t *RefreshToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// Revoked reports whether the token was rotated or explicitly revoked.
func (t *RefreshToken) Revoked() bool {
	return t.RevokedAt != nil
}
