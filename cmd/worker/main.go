// Worker periodically sweeps the relational store: refresh tokens whose
// hard expiry passed long ago and audit rows past retention are deleted.
// Revocation state stays authoritative in Redis; this only reclaims disk.
package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"credential-control-plane/internal/config"
	"credential-control-plane/internal/db"
)

const (
	sweepInterval  = time.Hour
	tokenRetention = 30 * 24 * time.Hour
	auditRetention = 90 * 24 * time.Hour
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("worker: DATABASE_URL is required")
	}

	conn, err := db.Open(cfg.DatabaseURL, db.PoolConfig{MaxOpenConns: 2, MaxIdleTime: 5 * time.Minute})
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("worker: shutting down...")
		cancel()
	}()

	log.Printf("worker: sweeping every %s", sweepInterval)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	sweep(ctx, conn)
	for {
		select {
		case <-ctx.Done():
			log.Println("worker: stopped")
			return
		case <-ticker.C:
			sweep(ctx, conn)
		}
	}
}

func sweep(ctx context.Context, conn *sql.DB) {
	sweepCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	now := time.Now().UTC()
	res, err := conn.ExecContext(sweepCtx,
		`DELETE FROM refresh_tokens WHERE expires_at < $1`,
		now.Add(-tokenRetention))
	if err != nil {
		log.Printf("worker: token sweep failed: %v", err)
	} else if n, err := res.RowsAffected(); err == nil && n > 0 {
		log.Printf("worker: deleted %d expired refresh tokens", n)
	}

	res, err = conn.ExecContext(sweepCtx,
		`DELETE FROM audit_log WHERE created_at < $1`,
		now.Add(-auditRetention))
	if err != nil {
		log.Printf("worker: audit sweep failed: %v", err)
	} else if n, err := res.RowsAffected(); err == nil && n > 0 {
		log.Printf("worker: deleted %d audit rows", n)
	}
}
