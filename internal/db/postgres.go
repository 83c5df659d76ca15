package db

import (
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PoolConfig bounds the shared connection pool. MaxOpenConns must exceed the
// admission controller's max_concurrent so the pool never becomes the first
// resource to exhaust under load; MaxIdleTime drops connections that went
// stale across network partitions.
type PoolConfig struct {
	MaxOpenConns int
	MaxIdleTime  time.Duration
}

// Open opens a Postgres connection pool using the given DSN and pool bounds.
// Caller must call Close when done.
func Open(dsn string, pool PoolConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
		db.SetMaxIdleConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleTime > 0 {
		db.SetConnMaxIdleTime(pool.MaxIdleTime)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
