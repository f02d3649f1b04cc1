// Package db opens the Postgres pool shared by the user, session, RBAC, device and audit repositories.
package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// ErrNoDSN is returned when Open is called without a connection string.
var ErrNoDSN = errors.New("db: DATABASE_URL is not set")

// Option tunes the connection pool.
type Option func(*sql.DB)

// WithMaxOpenConns caps open connections; idle connections are capped at half of n.
func WithMaxOpenConns(n int) Option {
	return func(db *sql.DB) {
		if n <= 0 {
			return
		}
		db.SetMaxOpenConns(n)
		db.SetMaxIdleConns(max(1, n/2))
	}
}

// WithConnMaxLifetime recycles connections older than d.
func WithConnMaxLifetime(d time.Duration) Option {
	return func(db *sql.DB) {
		if d > 0 {
			db.SetConnMaxLifetime(d)
		}
	}
}

// Open opens a Postgres pool through the pgx stdlib driver and pings it within ctx.
// Caller must call Close when done.
func Open(ctx context.Context, dsn string, opts ...Option) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, ErrNoDSN
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	for _, opt := range opts {
		opt(db)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
