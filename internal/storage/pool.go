// Package storage implements the single-file embedded SQL store: a
// jmoiron/sqlx connection pool over modernc.org/sqlite (pure Go, no cgo),
// WAL-mode pragmas, schema initialization, and chunked transactional
// upsert writes.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Config configures the connection pool and engine pragmas.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
}

// DefaultConfig returns the default pool sizing (10 open, 5 idle, 30m
// connection lifetime) and a 5s busy timeout. The engine pragmas (WAL
// journal mode, synchronous=NORMAL, ~10MB page cache, memory temp store,
// ~256MB mmap, foreign keys on) are not part of Config; Open always sets them.
func DefaultConfig(path string) Config {
	return Config{
		Path:            path,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		BusyTimeout:     5 * time.Second,
	}
}

// Pool owns the single-file database's connection pool. Every component
// accesses the file exclusively through a Pool handle; nothing opens the
// sqlite file directly.
type Pool struct {
	db   *sqlx.DB
	path string
}

// Open initializes schema and pragmas on first access and returns a Pool.
func Open(ctx context.Context, cfg Config) (*Pool, error) {
	dsn := fmt.Sprintf(
		"%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=cache_size(-10000)&_pragma=temp_store(MEMORY)&_pragma=mmap_size(268435456)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(%d)",
		cfg.Path, cfg.BusyTimeout.Milliseconds(),
	)

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: opening database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: pinging database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: initializing schema: %w", err)
	}

	return &Pool{db: db, path: cfg.Path}, nil
}

func (p *Pool) Close() error { return p.db.Close() }

func (p *Pool) DB() *sqlx.DB { return p.db }

// HealthCheck verifies the pool can still reach the database file.
func (p *Pool) HealthCheck(ctx context.Context) error {
	return p.db.PingContext(ctx)
}
