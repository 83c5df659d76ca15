package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"credential-control-plane/internal/permcache"
	"credential-control-plane/internal/ratelimit"
	"credential-control-plane/internal/revocation"
	"credential-control-plane/internal/security"
	sessiondomain "credential-control-plane/internal/session/domain"
	sessionrepo "credential-control-plane/internal/session/repository"
	userdomain "credential-control-plane/internal/user/domain"
)

type memUserRepo struct {
	users map[string]*userdomain.User
}

func (m *memUserRepo) GetByEmail(_ context.Context, email string) (*userdomain.User, error) {
	return m.users[email], nil
}

type memSessionRepo struct {
	mu      sync.Mutex
	records map[string]*sessiondomain.RefreshToken
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{records: make(map[string]*sessiondomain.RefreshToken)}
}

func (m *memSessionRepo) CreateForLogin(_ context.Context, t *sessiondomain.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.records[t.ID] = &cp
	return nil
}

func (m *memSessionRepo) GetByTokenHash(_ context.Context, hash string) (*sessiondomain.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.TokenHash == hash {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memSessionRepo) Rotate(_ context.Context, oldID string, successor *sessiondomain.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.records[oldID]
	if !ok || old.RevokedAt != nil {
		return sessionrepo.ErrTokenRotated
	}
	now := time.Now().UTC()
	old.RevokedAt = &now
	cp := *successor
	m.records[successor.ID] = &cp
	return nil
}

func (m *memSessionRepo) Revoke(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[id]; ok && r.RevokedAt == nil {
		now := time.Now().UTC()
		r.RevokedAt = &now
	}
	return nil
}

func (m *memSessionRepo) RevokeAllBySubject(_ context.Context, subjectID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	now := time.Now().UTC()
	for _, r := range m.records {
		if r.SubjectID == subjectID && r.RevokedAt == nil {
			r.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

func (m *memSessionRepo) activeCount(subjectID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.records {
		if r.SubjectID == subjectID && r.RevokedAt == nil {
			n++
		}
	}
	return n
}

type staticResolver struct {
	snap permcache.Snapshot
}

func (r *staticResolver) Resolve(context.Context, string) (*permcache.Snapshot, error) {
	cp := r.snap
	return &cp, nil
}

type authFixture struct {
	svc      *AuthService
	users    *memUserRepo
	sessions *memSessionRepo
	registry *revocation.Registry
	redis    *miniredis.Miniredis
}

func newFixture(t *testing.T) *authFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	hasher := security.NewHasher(security.Argon2Params{Memory: 8 * 1024, Time: 1, Parallelism: 1}, 2)
	hash, err := hasher.Hash(context.Background(), []byte("correct-password-1!"))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	users := &memUserRepo{users: map[string]*userdomain.User{
		"a@example.com": {
			ID:           "u1",
			Email:        "a@example.com",
			PasswordHash: hash,
			Status:       userdomain.UserStatusActive,
		},
	}}
	sessions := newMemSessionRepo()
	registry := revocation.New(client)
	lockout := ratelimit.NewLockout(client, 5, 15*time.Minute)
	tokens, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	resolver := &staticResolver{snap: permcache.Snapshot{
		Roles:       []string{"member"},
		Permissions: []string{"report:read"},
	}}

	svc := NewAuthService(users, sessions, resolver, registry, lockout, hasher, tokens, 24*time.Hour)
	return &authFixture{svc: svc, users: users, sessions: sessions, registry: registry, redis: mr}
}

func TestAuthService_LoginSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, "a@example.com", "correct-password-1!", "cli")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" || pair.TokenType != "Bearer" {
		t.Errorf("Login pair: %+v", pair)
	}
	if f.sessions.activeCount("u1") != 1 {
		t.Errorf("expected one active refresh record, got %d", f.sessions.activeCount("u1"))
	}
	members, err := f.redis.SMembers("active_tokens:u1")
	if err != nil || len(members) != 1 {
		t.Errorf("active jti set: members=%v err=%v", members, err)
	}
}

func TestAuthService_LoginWrongPassword(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Login(context.Background(), "a@example.com", "wrong", "cli"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: want ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthService_LoginUnknownUser(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Login(context.Background(), "nobody@example.com", "whatever", "cli"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user: want ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthService_LockoutAfterRepeatedFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := f.svc.Login(ctx, "a@example.com", "wrong", "cli"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: want ErrInvalidCredentials, got %v", i+1, err)
		}
	}
	// Correct password, but the account is locked now.
	if _, err := f.svc.Login(ctx, "a@example.com", "correct-password-1!", "cli"); !errors.Is(err, ErrAccountLocked) {
		t.Errorf("locked account: want ErrAccountLocked, got %v", err)
	}
}

func TestAuthService_RefreshRotationChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, "a@example.com", "correct-password-1!", "cli")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	tokenA := pair.RefreshToken

	pairB, err := f.svc.Refresh(ctx, tokenA)
	if err != nil {
		t.Fatalf("Refresh A: %v", err)
	}
	tokenB := pairB.RefreshToken

	if _, err := f.svc.Refresh(ctx, tokenA); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("reuse of A after rotation: want ErrTokenRevoked, got %v", err)
	}

	pairC, err := f.svc.Refresh(ctx, tokenB)
	if err != nil {
		t.Fatalf("Refresh B: %v", err)
	}
	if pairC.RefreshToken == tokenB {
		t.Error("rotation must mint a new refresh secret")
	}

	if _, err := f.svc.Refresh(ctx, tokenB); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("reuse of B after C exists: want ErrTokenRevoked, got %v", err)
	}
}

func TestAuthService_RotationExclusivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, "a@example.com", "correct-password-1!", "cli")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Refresh(ctx, pair.RefreshToken)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, revoked int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrTokenRevoked) || errors.Is(err, ErrTokenNotFound):
			revoked++
		default:
			t.Errorf("unexpected refresh error: %v", err)
		}
	}
	if successes != 1 {
		t.Errorf("concurrent refresh: got %d successes, want exactly 1", successes)
	}
	if revoked != n-1 {
		t.Errorf("concurrent refresh: got %d revoked failures, want %d", revoked, n-1)
	}
}

func TestAuthService_Logout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, "a@example.com", "correct-password-1!", "cli")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := f.svc.Logout(ctx, pair.AccessToken, pair.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	tokens, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	claims, err := tokens.ValidateAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	blacklisted, err := f.registry.IsBlacklisted(ctx, claims.ID)
	if err != nil {
		t.Fatalf("IsBlacklisted: %v", err)
	}
	if !blacklisted {
		t.Error("access jti should be blacklisted after logout")
	}
	if f.sessions.activeCount("u1") != 0 {
		t.Error("refresh record should be revoked after logout")
	}
	if _, err := f.svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("refresh after logout: want ErrTokenRevoked, got %v", err)
	}
}

func TestAuthService_RevokeAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var pairs []*TokenPair
	for i := 0; i < 3; i++ {
		pair, err := f.svc.Login(ctx, "a@example.com", "correct-password-1!", "cli")
		if err != nil {
			t.Fatalf("Login #%d: %v", i+1, err)
		}
		pairs = append(pairs, pair)
	}

	if err := f.svc.RevokeAll(ctx, "u1"); err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}

	if f.sessions.activeCount("u1") != 0 {
		t.Errorf("all refresh records should be revoked, %d still active", f.sessions.activeCount("u1"))
	}
	tokens, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	for i, pair := range pairs {
		claims, err := tokens.ValidateAccess(pair.AccessToken)
		if err != nil {
			t.Fatalf("ValidateAccess #%d: %v", i+1, err)
		}
		blacklisted, err := f.registry.IsBlacklisted(ctx, claims.ID)
		if err != nil {
			t.Fatalf("IsBlacklisted #%d: %v", i+1, err)
		}
		if !blacklisted {
			t.Errorf("jti of session %d should be blacklisted after RevokeAll", i+1)
		}
		if _, err := f.svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
			t.Errorf("refresh of session %d after RevokeAll: want ErrTokenRevoked, got %v", i+1, err)
		}
	}
}

func TestAuthService_FailsClosedWhenRegistryDown(t *testing.T) {
	f := newFixture(t)

	f.redis.Close()

	_, err := f.svc.Login(context.Background(), "a@example.com", "correct-password-1!", "cli")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("registry outage: want ErrStoreUnavailable, got %v", err)
	}
}

func TestAuthService_RefreshExpiredToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	secret, err := security.NewRefreshSecret()
	if err != nil {
		t.Fatalf("NewRefreshSecret: %v", err)
	}
	f.sessions.CreateForLogin(ctx, &sessiondomain.RefreshToken{
		ID:        "stale",
		SubjectID: "u1",
		TokenHash: security.HashRefreshToken(secret),
		ExpiresAt: time.Now().Add(-time.Hour),
	})

	if _, err := f.svc.Refresh(ctx, secret); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expired token: want ErrTokenExpired, got %v", err)
	}
}

func TestAuthService_RefreshUnknownToken(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Refresh(context.Background(), "never-issued"); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("unknown token: want ErrTokenNotFound, got %v", err)
	}
}

// rotateFailRepo delegates to the in-memory repo but fails Rotate with a
// store-level error.
type rotateFailRepo struct {
	*memSessionRepo
	err error
}

func (r *rotateFailRepo) Rotate(context.Context, string, *sessiondomain.RefreshToken) error {
	return r.err
}

func TestAuthService_RefreshStoreFailureDuringRotate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, "a@example.com", "correct-password-1!", "cli")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	f.svc.sessionRepo = &rotateFailRepo{memSessionRepo: f.sessions, err: errors.New("connection reset by peer")}
	if _, err := f.svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("rotate store failure: want ErrStoreUnavailable, got %v", err)
	}
}

// corruptHashRepo returns records whose stored hash no longer matches any
// token, as a damaged store would.
type corruptHashRepo struct {
	*memSessionRepo
}

func (r *corruptHashRepo) GetByTokenHash(ctx context.Context, hash string) (*sessiondomain.RefreshToken, error) {
	rec, err := r.memSessionRepo.GetByTokenHash(ctx, hash)
	if rec != nil {
		rec.TokenHash = "0000000000000000000000000000000000000000000000000000000000000000"
	}
	return rec, err
}

func TestAuthService_RefreshRejectsStoredHashMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, "a@example.com", "correct-password-1!", "cli")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	f.svc.sessionRepo = &corruptHashRepo{memSessionRepo: f.sessions}
	if _, err := f.svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("stored hash mismatch: want ErrTokenNotFound, got %v", err)
	}
	if f.sessions.activeCount("u1") != 1 {
		t.Errorf("no rotation should happen on hash mismatch; active=%d", f.sessions.activeCount("u1"))
	}
}
