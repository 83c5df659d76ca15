package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"credential-control-plane/internal/permcache"
	"credential-control-plane/internal/security"
	sessiondomain "credential-control-plane/internal/session/domain"
	sessionrepo "credential-control-plane/internal/session/repository"
	userdomain "credential-control-plane/internal/user/domain"
)

// Sentinel errors for the auth service; the handler maps them to HTTP codes.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrTokenNotFound      = errors.New("refresh token not found")
	ErrTokenRevoked       = errors.New("refresh token revoked")
	ErrTokenExpired       = errors.New("refresh token expired")
	ErrStoreUnavailable   = errors.New("store unavailable")
)

const (
	retryAttempts = 3
	retryBackoff  = 50 * time.Millisecond
)

// TokenPair is the outcome of Login and Refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
}

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
}

// SessionRepo is the minimal refresh token repository needed by the auth service.
type SessionRepo interface {
	CreateForLogin(ctx context.Context, t *sessiondomain.RefreshToken) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*sessiondomain.RefreshToken, error)
	Rotate(ctx context.Context, oldID string, successor *sessiondomain.RefreshToken) error
	Revoke(ctx context.Context, id string) error
	RevokeAllBySubject(ctx context.Context, subjectID string) (int64, error)
}

// Resolver supplies the role/permission snapshot embedded in access tokens.
type Resolver interface {
	Resolve(ctx context.Context, subjectID string) (*permcache.Snapshot, error)
}

// Registry is the revocation registry surface needed by the auth service.
type Registry interface {
	RegisterActive(ctx context.Context, subjectID, jti string, ttl time.Duration) error
	Blacklist(ctx context.Context, jti string, ttl time.Duration) error
	RevokeAll(ctx context.Context, subjectID string, ttl time.Duration) error
}

// Lockout is the account-lockout counter surface needed by the auth service.
type Lockout interface {
	Locked(ctx context.Context, subjectID string) (bool, error)
	RecordFailure(ctx context.Context, subjectID string) (bool, error)
	Reset(ctx context.Context, subjectID string) error
}

// AuthService orchestrates login, refresh rotation, logout, and revoke-all.
// Credential and token failures are deterministic outcomes; transient store
// failures are retried a bounded number of times and then fail closed.
type AuthService struct {
	userRepo    UserRepo
	sessionRepo SessionRepo
	resolver    Resolver
	registry    Registry
	lockout     Lockout
	hasher      *security.Hasher
	tokens      *security.TokenProvider
	refreshTTL  time.Duration
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(
	userRepo UserRepo,
	sessionRepo SessionRepo,
	resolver Resolver,
	registry Registry,
	lockout Lockout,
	hasher *security.Hasher,
	tokens *security.TokenProvider,
	refreshTTL time.Duration,
) *AuthService {
	return &AuthService{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		resolver:    resolver,
		registry:    registry,
		lockout:     lockout,
		hasher:      hasher,
		tokens:      tokens,
		refreshTTL:  refreshTTL,
	}
}

// Login authenticates with email/password, issues an access/refresh pair,
// persists the refresh record, and registers the access jti as active.
func (s *AuthService) Login(ctx context.Context, email, password, deviceInfo string) (_ *TokenPair, err error) {
	ctx, span := tracer.Start(ctx, "auth.login")
	defer func() { finishOp(ctx, span, "login", err) }()

	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	var user *userdomain.User
	err = s.retry(ctx, func() error {
		var err error
		user, err = s.userRepo.GetByEmail(ctx, email)
		return err
	})
	if err != nil {
		return nil, err
	}
	if user == nil || !user.Active() {
		return nil, ErrInvalidCredentials
	}

	var locked bool
	err = s.retry(ctx, func() error {
		var err error
		locked, err = s.lockout.Locked(ctx, user.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if locked {
		return nil, ErrAccountLocked
	}

	if err := s.hasher.Compare(ctx, user.PasswordHash, []byte(password)); err != nil {
		if errors.Is(err, security.ErrMismatchedPassword) {
			_, _ = s.lockout.RecordFailure(ctx, user.ID)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := s.retry(ctx, func() error { return s.lockout.Reset(ctx, user.ID) }); err != nil {
		return nil, err
	}

	return s.issuePair(ctx, user.ID, deviceInfo, func(record *sessiondomain.RefreshToken) error {
		return s.retry(ctx, func() error { return s.sessionRepo.CreateForLogin(ctx, record) })
	})
}

// Refresh rotates the refresh token and returns a new pair. Two concurrent
// calls with the same token yield exactly one success; the loser of the
// conditional update sees ErrTokenRevoked.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (_ *TokenPair, err error) {
	ctx, span := tracer.Start(ctx, "auth.refresh")
	defer func() { finishOp(ctx, span, "refresh", err) }()

	if refreshToken == "" {
		return nil, ErrTokenNotFound
	}
	hash := security.HashRefreshToken(refreshToken)

	var record *sessiondomain.RefreshToken
	err = s.retry(ctx, func() error {
		var err error
		record, err = s.sessionRepo.GetByTokenHash(ctx, hash)
		return err
	})
	if err != nil {
		return nil, err
	}
	switch {
	case record == nil:
		return nil, ErrTokenNotFound
	case !security.RefreshTokenHashEqual(refreshToken, record.TokenHash):
		return nil, ErrTokenNotFound
	case record.Revoked():
		return nil, ErrTokenRevoked
	case record.Expired(time.Now().UTC()):
		return nil, ErrTokenExpired
	}

	return s.issuePair(ctx, record.SubjectID, record.DeviceInfo, func(successor *sessiondomain.RefreshToken) error {
		err := s.sessionRepo.Rotate(ctx, record.ID, successor)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, sessionrepo.ErrTokenRotated):
			return ErrTokenRevoked
		default:
			return s.classify(err)
		}
	})
}

// Logout blacklists the access token's jti for its remaining lifetime and,
// when the client supplies its refresh token, revokes the paired record.
// An already-expired access token is a successful no-op.
func (s *AuthService) Logout(ctx context.Context, accessToken, refreshToken string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.logout")
	defer func() { finishOp(ctx, span, "logout", err) }()

	claims, err := s.tokens.ValidateAccess(accessToken)
	if err != nil {
		if errors.Is(err, security.ErrTokenExpired) {
			return nil
		}
		return ErrTokenNotFound
	}
	remaining := claims.RemainingLifetime(time.Now().UTC())
	if err := s.retry(ctx, func() error { return s.registry.Blacklist(ctx, claims.ID, remaining) }); err != nil {
		return err
	}

	if refreshToken == "" {
		return nil
	}
	hash := security.HashRefreshToken(refreshToken)
	var record *sessiondomain.RefreshToken
	err = s.retry(ctx, func() error {
		var err error
		record, err = s.sessionRepo.GetByTokenHash(ctx, hash)
		return err
	})
	if err != nil {
		return err
	}
	if record == nil || record.SubjectID != claims.Subject {
		return nil
	}
	return s.retry(ctx, func() error { return s.sessionRepo.Revoke(ctx, record.ID) })
}

// RevokeAll revokes every refresh record for the subject relationally, then
// blacklists all of the subject's active access jtis and clears the active
// set. The relational step comes first so a registry failure leaves nothing
// accepted that the store considers revoked.
func (s *AuthService) RevokeAll(ctx context.Context, subjectID string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.revoke_all")
	defer func() { finishOp(ctx, span, "revoke_all", err) }()

	if err := s.retry(ctx, func() error {
		_, err := s.sessionRepo.RevokeAllBySubject(ctx, subjectID)
		return err
	}); err != nil {
		return err
	}
	return s.retry(ctx, func() error {
		return s.registry.RevokeAll(ctx, subjectID, s.tokens.AccessTTL())
	})
}

// issuePair mints both tokens, runs the caller's persistence step for the
// refresh record, and registers the access jti as active.
func (s *AuthService) issuePair(ctx context.Context, subjectID, deviceInfo string, persist func(*sessiondomain.RefreshToken) error) (*TokenPair, error) {
	snap, err := s.resolver.Resolve(ctx, subjectID)
	if err != nil {
		return nil, s.classify(err)
	}

	accessToken, jti, expiresAt, err := s.tokens.IssueAccess(subjectID, snap.Roles, snap.Permissions)
	if err != nil {
		return nil, err
	}
	refreshSecret, err := security.NewRefreshSecret()
	if err != nil {
		return nil, err
	}
	record := &sessiondomain.RefreshToken{
		ID:         uuid.New().String(),
		SubjectID:  subjectID,
		TokenHash:  security.HashRefreshToken(refreshSecret),
		DeviceInfo: deviceInfo,
		ExpiresAt:  time.Now().UTC().Add(s.refreshTTL),
	}
	if err := persist(record); err != nil {
		return nil, err
	}
	if err := s.retry(ctx, func() error {
		return s.registry.RegisterActive(ctx, subjectID, jti, s.tokens.AccessTTL())
	}); err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshSecret,
		TokenType:    "Bearer",
		ExpiresAt:    expiresAt,
	}, nil
}

// retry runs fn up to retryAttempts times with doubling backoff, retrying
// only transient store failures. Exhaustion fails closed with
// ErrStoreUnavailable wrapping the last error.
func (s *AuthService) retry(ctx context.Context, fn func() error) error {
	backoff := retryBackoff
	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
			backoff *= 2
		}
		err := fn()
		if err == nil {
			return nil
		}
		if !transient(err) {
			return err
		}
		lastErr = err
	}
	return errors.Join(ErrStoreUnavailable, lastErr)
}

var businessErrors = []error{
	ErrInvalidCredentials, ErrAccountLocked,
	ErrTokenNotFound, ErrTokenRevoked, ErrTokenExpired,
	security.ErrMismatchedPassword,
	security.ErrInvalidSignature, security.ErrTokenExpired, security.ErrMalformedToken,
	context.Canceled, context.DeadlineExceeded,
}

// transient reports whether the error is a store failure worth retrying, as
// opposed to a deterministic business outcome.
func transient(err error) bool {
	for _, be := range businessErrors {
		if errors.Is(err, be) {
			return false
		}
	}
	return true
}

func (s *AuthService) classify(err error) error {
	if transient(err) {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return err
}
