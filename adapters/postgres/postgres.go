// Package postgres provides PostgreSQL implementations of the storage
// ports, for deployments where several gateway instances share state.
package postgres

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// DB wraps a PostgreSQL connection pool.
type DB struct {
	*sql.DB
}

// Open connects to PostgreSQL and verifies the connection.
func Open(dsn string) (*DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &DB{DB: db}, nil
}

// Migrate creates the schema if it does not exist yet.
func (db *DB) Migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS profiles (
			id TEXT PRIMARY KEY,
			email TEXT,
			name TEXT,
			key_prefix TEXT NOT NULL,
			key_hash BYTEA NOT NULL,
			key_issued_at TIMESTAMPTZ NOT NULL,
			key_revoked_at TIMESTAMPTZ,
			credits BIGINT NOT NULL DEFAULT 0 CHECK (credits >= 0),
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_profiles_key_prefix ON profiles(key_prefix)`,
		`CREATE TABLE IF NOT EXISTS listings (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			version TEXT NOT NULL,
			status TEXT NOT NULL,
			rate_cap INTEGER NOT NULL CHECK (rate_cap > 0),
			credit_cost BIGINT NOT NULL CHECK (credit_cost > 0),
			endpoint TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS usage_records (
			id TEXT PRIMARY KEY,
			profile_id TEXT NOT NULL,
			api_id TEXT NOT NULL,
			endpoint TEXT,
			method TEXT,
			outcome TEXT NOT NULL,
			status_code INTEGER NOT NULL,
			latency_ms BIGINT NOT NULL DEFAULT 0,
			credits_charged BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_profile_time ON usage_records(profile_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_pair_time ON usage_records(profile_id, api_id, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
