package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"credential-control-plane/internal/admission"
	auditrepo "credential-control-plane/internal/audit/repository"
	"credential-control-plane/internal/config"
	"credential-control-plane/internal/db"
	"credential-control-plane/internal/httpapi"
	identitysvc "credential-control-plane/internal/identity/service"
	"credential-control-plane/internal/obs"
	"credential-control-plane/internal/permcache"
	"credential-control-plane/internal/ratelimit"
	rbacrepo "credential-control-plane/internal/rbac/repository"
	rbacsvc "credential-control-plane/internal/rbac/service"
	"credential-control-plane/internal/revocation"
	"credential-control-plane/internal/security"
	sessionrepo "credential-control-plane/internal/session/repository"
	"credential-control-plane/internal/telemetry"
	telemetryotel "credential-control-plane/internal/telemetry/otel"
	userrepo "credential-control-plane/internal/user/repository"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	ctx := context.Background()

	providers, err := telemetryotel.NewProviders(ctx, cfg.OTLPEndpoint, "credential-control-plane", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	providers.SetGlobal()

	obs.Init()

	conn, err := db.Open(cfg.DatabaseURL, db.PoolConfig{
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleTime:  cfg.ConnMaxIdleTime(),
	})
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis: %v", err)
	}

	signer, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
	if err != nil {
		log.Fatalf("jwt private key: %v", err)
	}
	pub, err := security.ParsePublicKey(cfg.JWTPublicKey)
	if err != nil {
		log.Fatalf("jwt public key: %v", err)
	}
	tokens := security.NewTokenProvider(signer, pub, cfg.JWTKeyID, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())
	hasher := security.NewHasher(security.Argon2Params{}, 0)

	users := userrepo.NewPostgresRepository(conn)
	sessions := sessionrepo.NewPostgresRepository(conn)
	rbacRepo := rbacrepo.NewPostgresRepository(conn)

	cache := permcache.New(redisClient)
	resolver := rbacsvc.New(rbacRepo, cache, cfg.PermCacheTTL())

	registry := revocation.New(redisClient)
	lockout := ratelimit.NewLockout(redisClient, cfg.LockoutThreshold, cfg.AccountLockoutDuration())
	limiter := ratelimit.NewLimiter(redisClient, map[string]ratelimit.Limit{
		httpapi.ClassCredential: {Max: int64(cfg.RateLimitCredentialMax), Window: cfg.CredentialWindow()},
		"default":               {Max: int64(cfg.RateLimitDefaultMax), Window: cfg.DefaultWindow()},
	})
	admit := admission.New(admission.Config{
		MaxConcurrent:   cfg.AdmissionMaxConcurrent,
		QueueCapacity:   cfg.AdmissionQueueCapacity,
		RejectThreshold: cfg.AdmissionRejectThreshold,
		WaitTimeout:     cfg.AdmissionTimeout(),
	})

	auth := identitysvc.NewAuthService(users, sessions, resolver, registry, lockout, hasher, tokens, cfg.RefreshTokenTTL())
	emitter := telemetryotel.NewEventEmitter(providers.LoggerProvider)
	history := auditrepo.NewPostgresRepository(conn)

	api := httpapi.New(auth, tokens, registry, limiter, admit, httpapi.ReadyProbe{DB: conn}, emitter, history, version)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}

	// Give in-flight async event emits time to land before closing the exporters.
	time.Sleep(telemetry.ShutdownDrainDuration)
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("telemetry shutdown: %v", err)
	}
	log.Println("HTTP server stopped")
}
