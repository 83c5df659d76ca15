package security

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/sync/semaphore"
)

// ErrMismatchedPassword is returned by Compare when the password does not
// match the stored hash.
var ErrMismatchedPassword = errors.New("password does not match")

// Argon2Params tunes the argon2id key derivation. Zero values fall back to
// interactive-login defaults (64 MiB, 1 pass, parallelism 4).
type Argon2Params struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Hasher hashes and verifies passwords using argon2id. Verification is
// memory-hard and CPU-expensive, so every derivation runs under a bounded
// semaphore: at most maxWorkers derivations execute at once and the rest
// queue on their request context. Callers must not log or persist plaintext
// passwords.
type Hasher struct {
	params Argon2Params
	sem    *semaphore.Weighted
}

// NewHasher returns a Hasher with the given parameters. maxWorkers bounds
// concurrent derivations; values <= 0 default to GOMAXPROCS.
func NewHasher(params Argon2Params, maxWorkers int) *Hasher {
	if params.Memory == 0 {
		params.Memory = 64 * 1024
	}
	if params.Time == 0 {
		params.Time = 1
	}
	if params.Parallelism == 0 {
		params.Parallelism = 4
	}
	if params.SaltLength == 0 {
		params.SaltLength = 16
	}
	if params.KeyLength == 0 {
		params.KeyLength = 32
	}
	if maxWorkers <= 0 {
		maxWorkers = runtime.GOMAXPROCS(0)
	}
	return &Hasher{
		params: params,
		sem:    semaphore.NewWeighted(int64(maxWorkers)),
	}
}

// Hash produces an argon2id PHC-format hash of password.
func (h *Hasher) Hash(ctx context.Context, password []byte) (string, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.sem.Release(1)

	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey(password, salt, h.params.Time, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory,
		h.params.Time,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Compare verifies password against the stored PHC hash using constant-time
// comparison. Returns nil on match, ErrMismatchedPassword on mismatch, and
// other errors for malformed hashes or cancelled contexts.
func (h *Hasher) Compare(ctx context.Context, encodedHash string, password []byte) error {
	memory, time, parallelism, salt, key, err := parsePHC(encodedHash)
	if err != nil {
		return err
	}

	if err := h.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	computed := argon2.IDKey(password, salt, time, memory, parallelism, uint32(len(key)))
	h.sem.Release(1)

	if subtle.ConstantTimeCompare(computed, key) != 1 {
		return ErrMismatchedPassword
	}
	return nil
}

func parsePHC(encoded string) (memory, time uint32, parallelism uint8, salt, key []byte, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return 0, 0, 0, nil, nil, errors.New("security: unsupported password hash format")
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return 0, 0, 0, nil, nil, errors.New("security: unsupported argon2 version")
	}
	var p uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &p); err != nil {
		return 0, 0, 0, nil, nil, errors.New("security: malformed argon2 parameters")
	}
	if p == 0 || p > 255 {
		return 0, 0, 0, nil, nil, errors.New("security: malformed argon2 parameters")
	}
	parallelism = uint8(p)
	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return 0, 0, 0, nil, nil, errors.New("security: malformed argon2 salt")
	}
	key, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return 0, 0, 0, nil, nil, errors.New("security: malformed argon2 hash")
	}
	return memory, time, parallelism, salt, key, nil
}
