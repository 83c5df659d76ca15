package security

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"
	"time"
)

func TestTokenProvider_IssueAndValidateAccess(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	roles := []string{"admin", "auditor"}
	perms := []string{"report:read", "report:write"}

	token, jti, exp, err := p.IssueAccess("subject-1", roles, perms)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if token == "" || jti == "" {
		t.Fatal("access token or jti empty")
	}
	if exp.Before(time.Now()) {
		t.Fatal("expires at in the past")
	}

	claims, err := p.ValidateAccess(token)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if claims.Subject != "subject-1" || claims.ID != jti {
		t.Errorf("ValidateAccess: got subject=%q jti=%q", claims.Subject, claims.ID)
	}
	if len(claims.Roles) != 2 || claims.Roles[0] != "admin" {
		t.Errorf("roles not preserved: %v", claims.Roles)
	}
	if len(claims.Permissions) != 2 || claims.Permissions[1] != "report:write" {
		t.Errorf("permissions not preserved: %v", claims.Permissions)
	}
}

func TestTokenProvider_NilSnapshotsBecomeEmpty(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	token, _, _, err := p.IssueAccess("subject-1", nil, nil)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	claims, err := p.ValidateAccess(token)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if claims.Roles == nil || claims.Permissions == nil {
		t.Error("nil role/permission snapshot should round trip as empty slices")
	}
}

func TestTokenProvider_UniqueJTI(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		_, jti, _, err := p.IssueAccess("subject-1", nil, nil)
		if err != nil {
			t.Fatalf("IssueAccess: %v", err)
		}
		if seen[jti] {
			t.Fatalf("duplicate jti %q", jti)
		}
		seen[jti] = true
	}
}

func TestTokenProvider_ValidateAccessExpired(t *testing.T) {
	signer, err := ParsePrivateKey(testPrivateKeyPEM)
	if err != nil {
		t.Fatalf("ParsePrivateKey: %v", err)
	}
	pub, err := ParsePublicKey(testPublicKeyPEM)
	if err != nil {
		t.Fatalf("ParsePublicKey: %v", err)
	}
	p := NewTokenProvider(signer, pub, "test-key-1", "test-issuer", "test-audience", -time.Minute)

	token, _, _, err := p.IssueAccess("subject-1", nil, nil)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if _, err := p.ValidateAccess(token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expired token: want ErrTokenExpired, got %v", err)
	}
}

func TestTokenProvider_ValidateAccessWrongKey(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	other, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	forger := NewTokenProvider(other, &other.PublicKey, "forged", "test-issuer", "test-audience", 15*time.Minute)
	token, _, _, err := forger.IssueAccess("subject-1", nil, nil)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if _, err := p.ValidateAccess(token); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("forged token: want ErrInvalidSignature, got %v", err)
	}
}

func TestTokenProvider_ValidateAccessMalformed(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	for _, tok := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := p.ValidateAccess(tok); !errors.Is(err, ErrMalformedToken) {
			t.Errorf("ValidateAccess(%q): want ErrMalformedToken, got %v", tok, err)
		}
	}
}

func TestTokenProvider_ValidateAccessWrongAudience(t *testing.T) {
	signer, err := ParsePrivateKey(testPrivateKeyPEM)
	if err != nil {
		t.Fatalf("ParsePrivateKey: %v", err)
	}
	pub, err := ParsePublicKey(testPublicKeyPEM)
	if err != nil {
		t.Fatalf("ParsePublicKey: %v", err)
	}
	other := NewTokenProvider(signer, pub, "test-key-1", "test-issuer", "other-audience", 15*time.Minute)
	token, _, _, err := other.IssueAccess("subject-1", nil, nil)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	if _, err := p.ValidateAccess(token); !errors.Is(err, ErrMalformedToken) {
		t.Errorf("wrong audience: want ErrMalformedToken, got %v", err)
	}
}

func TestAccessClaims_RemainingLifetime(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	token, _, exp, err := p.IssueAccess("subject-1", nil, nil)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	claims, err := p.ValidateAccess(token)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	remaining := claims.RemainingLifetime(exp.Add(-time.Minute))
	if remaining < 59*time.Second || remaining > 61*time.Second {
		t.Errorf("RemainingLifetime: got %v, want ~1m", remaining)
	}
	if got := claims.RemainingLifetime(exp.Add(time.Second)); got > 0 {
		t.Errorf("RemainingLifetime after expiry: got %v, want <= 0", got)
	}
}
