package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		username TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		profile_image TEXT,
		two_factor_secret TEXT NOT NULL DEFAULT '',
		two_factor_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		rank INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS accounts_email_idx ON accounts (email)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS accounts_username_idx ON accounts (username)`,
	`CREATE TABLE IF NOT EXISTS playlists (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		songs JSONB NOT NULL DEFAULT '[]',
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS playlists_owner_idx ON playlists (owner_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS playlists_single_active_idx ON playlists (owner_id) WHERE is_active`,
	`CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		slug TEXT NOT NULL,
		owner_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		staff JSONB NOT NULL DEFAULT '[]',
		background TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		welcome_message TEXT NOT NULL DEFAULT '',
		queue_cycle BOOLEAN NOT NULL DEFAULT FALSE,
		queue_locked BOOLEAN NOT NULL DEFAULT FALSE,
		queue_history JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS rooms_slug_idx ON rooms (slug)`,
	`CREATE INDEX IF NOT EXISTS rooms_owner_idx ON rooms (owner_id)`,
	`CREATE TABLE IF NOT EXISTS search_cache (
		query TEXT PRIMARY KEY,
		results JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		token_hash TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS refresh_tokens_account_idx ON refresh_tokens (account_id)`,
}

// ApplyPostgresMigrations creates the schema when it does not yet exist. The
// statements are idempotent so replicas can run them at startup.
func ApplyPostgresMigrations(ctx context.Context, dsn string) error {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("open postgres pool for migrations: %w", err)
	}
	defer pool.Close()

	for _, stmt := range migrationStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}
