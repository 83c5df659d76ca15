// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN for the credential store.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisAddr is the host:port of the Redis instance backing the revocation
	// registry, permission cache, and rate-limit counters.
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// RedisPassword is the optional Redis AUTH password.
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTKeyID is the kid published in the JWKS document and JWT headers.
	JWTKeyID string `mapstructure:"JWT_KEY_ID"`
	// JWTIssuer is the iss claim (e.g. "credential-control-plane").
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim validated on every access token.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// RefreshTTL is the refresh token lifetime (e.g. "168h").
	RefreshTTL string `mapstructure:"REFRESH_TTL"`
	// PermissionCacheTTL bounds the staleness of cached role/permission
	// snapshots (e.g. "5m").
	PermissionCacheTTL string `mapstructure:"PERMISSION_CACHE_TTL"`

	// RateLimitCredentialMax is the request budget per client for
	// credential-sensitive endpoints (login, refresh) within one window.
	RateLimitCredentialMax int `mapstructure:"RATE_LIMIT_CREDENTIAL_MAX"`
	// RateLimitCredentialWindow is the counting window (e.g. "60s").
	RateLimitCredentialWindow string `mapstructure:"RATE_LIMIT_CREDENTIAL_WINDOW"`
	// RateLimitDefaultMax is the budget for all other gated endpoints.
	RateLimitDefaultMax int `mapstructure:"RATE_LIMIT_DEFAULT_MAX"`
	// RateLimitDefaultWindow is the window for the default endpoint class.
	RateLimitDefaultWindow string `mapstructure:"RATE_LIMIT_DEFAULT_WINDOW"`

	// AdmissionMaxConcurrent is the number of requests allowed to execute
	// business logic at once. Must stay below DBMaxOpenConns so admission
	// control reacts before the connection pool exhausts.
	AdmissionMaxConcurrent int `mapstructure:"ADMISSION_MAX_CONCURRENT"`
	// AdmissionQueueCapacity is the number of requests allowed to wait for a permit.
	AdmissionQueueCapacity int `mapstructure:"ADMISSION_QUEUE_CAPACITY"`
	// AdmissionRejectThreshold is the active+queued count at which new
	// requests are rejected immediately without queueing.
	AdmissionRejectThreshold int `mapstructure:"ADMISSION_REJECT_THRESHOLD"`
	// AdmissionWaitTimeout bounds how long a request may wait for a permit (e.g. "2s").
	AdmissionWaitTimeout string `mapstructure:"ADMISSION_WAIT_TIMEOUT"`

	// LockoutThreshold is the number of consecutive failed logins before an
	// account is locked.
	LockoutThreshold int `mapstructure:"LOCKOUT_THRESHOLD"`
	// LockoutDuration is how long the failure counter (and the lock) persists (e.g. "15m").
	LockoutDuration string `mapstructure:"LOCKOUT_DURATION"`

	// DBMaxOpenConns caps the Postgres connection pool.
	DBMaxOpenConns int `mapstructure:"DB_MAX_OPEN_CONNS"`
	// DBConnMaxIdleTime bounds idle connection lifetime so stale connections
	// are dropped after network partitions (e.g. "5m").
	DBConnMaxIdleTime string `mapstructure:"DB_CONN_MAX_IDLE_TIME"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint; empty disables export.
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP export even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTLP_INSECURE"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("JWT_KEY_ID", "")
	v.SetDefault("JWT_ISSUER", "credential-control-plane")
	v.SetDefault("JWT_AUDIENCE", "credential-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("REFRESH_TTL", "168h") // 7d
	v.SetDefault("PERMISSION_CACHE_TTL", "5m")
	v.SetDefault("RATE_LIMIT_CREDENTIAL_MAX", 10)
	v.SetDefault("RATE_LIMIT_CREDENTIAL_WINDOW", "60s")
	v.SetDefault("RATE_LIMIT_DEFAULT_MAX", 100)
	v.SetDefault("RATE_LIMIT_DEFAULT_WINDOW", "60s")
	v.SetDefault("ADMISSION_MAX_CONCURRENT", 16)
	v.SetDefault("ADMISSION_QUEUE_CAPACITY", 64)
	v.SetDefault("ADMISSION_REJECT_THRESHOLD", 80)
	v.SetDefault("ADMISSION_WAIT_TIMEOUT", "2s")
	v.SetDefault("LOCKOUT_THRESHOLD", 5)
	v.SetDefault("LOCKOUT_DURATION", "15m")
	v.SetDefault("DB_MAX_OPEN_CONNS", 20)
	v.SetDefault("DB_CONN_MAX_IDLE_TIME", "5m")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("OTLP_INSECURE", false)
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.AdmissionMaxConcurrent <= 0 {
		return nil, errors.New("config: ADMISSION_MAX_CONCURRENT must be positive")
	}
	if cfg.AdmissionQueueCapacity < 0 {
		return nil, errors.New("config: ADMISSION_QUEUE_CAPACITY must not be negative")
	}
	if cfg.AdmissionRejectThreshold < cfg.AdmissionMaxConcurrent {
		return nil, errors.New("config: ADMISSION_REJECT_THRESHOLD must be at least ADMISSION_MAX_CONCURRENT")
	}
	if cfg.DBMaxOpenConns <= 0 {
		return nil, errors.New("config: DB_MAX_OPEN_CONNS must be positive")
	}
	if cfg.AdmissionMaxConcurrent >= cfg.DBMaxOpenConns {
		return nil, fmt.Errorf(
			"config: ADMISSION_MAX_CONCURRENT (%d) must be below DB_MAX_OPEN_CONNS (%d) so admission control reacts before pool exhaustion",
			cfg.AdmissionMaxConcurrent, cfg.DBMaxOpenConns,
		)
	}
	if cfg.LockoutThreshold <= 0 {
		return nil, errors.New("config: LOCKOUT_THRESHOLD must be positive")
	}

	return &cfg, nil
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return c.duration(c.JWTAccessTTL, 15*time.Minute)
}

// RefreshTokenTTL parses RefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTokenTTL() time.Duration {
	return c.duration(c.RefreshTTL, 168*time.Hour)
}

// PermCacheTTL parses PermissionCacheTTL. Returns 5m if unset or invalid.
func (c *Config) PermCacheTTL() time.Duration {
	return c.duration(c.PermissionCacheTTL, 5*time.Minute)
}

// CredentialWindow parses RateLimitCredentialWindow. Returns 60s if unset or invalid.
func (c *Config) CredentialWindow() time.Duration {
	return c.duration(c.RateLimitCredentialWindow, time.Minute)
}

// DefaultWindow parses RateLimitDefaultWindow. Returns 60s if unset or invalid.
func (c *Config) DefaultWindow() time.Duration {
	return c.duration(c.RateLimitDefaultWindow, time.Minute)
}

// AdmissionTimeout parses AdmissionWaitTimeout. Returns 2s if unset or invalid.
func (c *Config) AdmissionTimeout() time.Duration {
	return c.duration(c.AdmissionWaitTimeout, 2*time.Second)
}

// AccountLockoutDuration parses LockoutDuration. Returns 15m if unset or invalid.
func (c *Config) AccountLockoutDuration() time.Duration {
	return c.duration(c.LockoutDuration, 15*time.Minute)
}

// ConnMaxIdleTime parses DBConnMaxIdleTime. Returns 5m if unset or invalid.
func (c *Config) ConnMaxIdleTime() time.Duration {
	return c.duration(c.DBConnMaxIdleTime, 5*time.Minute)
}

func (c *Config) duration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
