package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var postgresTables = []string{
	`CREATE TABLE IF NOT EXISTS oauth_credentials (
		id BIGSERIAL PRIMARY KEY,
		owner_id TEXT NOT NULL,
		platform TEXT NOT NULL,
		access_token TEXT NOT NULL,
		refresh_token TEXT NOT NULL DEFAULT '',
		token_secret TEXT NOT NULL DEFAULT '',
		expires_at TIMESTAMPTZ NULL,
		scopes TEXT[] NOT NULL DEFAULT '{}',
		account_id TEXT NOT NULL DEFAULT '',
		token_type TEXT NOT NULL DEFAULT '',
		validated_at TIMESTAMPTZ NULL,
		invalid BOOLEAN NOT NULL DEFAULT FALSE,
		invalid_reason TEXT NULL,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (owner_id, platform)
	)`,
	`CREATE TABLE IF NOT EXISTS posts (
		id TEXT PRIMARY KEY,
		author_id TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		media_refs TEXT[] NOT NULL DEFAULT '{}',
		target_platforms TEXT[] NOT NULL,
		status TEXT NOT NULL,
		scheduled_at TIMESTAMPTZ NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		deleted_at TIMESTAMPTZ NULL
	)`,
	`CREATE INDEX IF NOT EXISTS posts_due_scheduled ON posts (scheduled_at) WHERE status = 'scheduled' AND deleted_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS platform_publications (
		id BIGSERIAL PRIMARY KEY,
		post_id TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		platform TEXT NOT NULL,
		platform_post_id TEXT NOT NULL,
		published_at TIMESTAMPTZ NOT NULL,
		last_synced_at TIMESTAMPTZ NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (post_id, platform)
	)`,
	`CREATE TABLE IF NOT EXISTS sync_jobs (
		id TEXT PRIMARY KEY,
		post_id TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		platform TEXT NOT NULL,
		state TEXT NOT NULL,
		attempt INT NOT NULL DEFAULT 0,
		next_run_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		last_error TEXT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	// One outstanding job per (post, platform).
	`CREATE UNIQUE INDEX IF NOT EXISTS sync_jobs_outstanding ON sync_jobs (post_id, platform) WHERE state IN ('pending','running','retry_scheduled','paused')`,
	`CREATE INDEX IF NOT EXISTS sync_jobs_due ON sync_jobs (state, next_run_at)`,
}

// Columns added after the first release of each table.
var postgresColumns = []struct {
	table  string
	column string
	ddl    string
}{
	{"oauth_credentials", "tier", "ALTER TABLE oauth_credentials ADD COLUMN tier TEXT NOT NULL DEFAULT ''"},
	{"sync_jobs", "deferrals", "ALTER TABLE sync_jobs ADD COLUMN deferrals INT NOT NULL DEFAULT 0"},
}

// EnsureSchema creates the PostgreSQL tables and adds missing columns.
// Safe to call at startup.
func EnsureSchema(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, ddl := range postgresTables {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	for _, c := range postgresColumns {
		exists, err := columnExists(ctx, db, c.table, c.column)
		if err != nil {
			return err
		}
		if !exists {
			if _, err := db.ExecContext(ctx, c.ddl); err != nil {
				return fmt.Errorf("adding column %s.%s failed: %w", c.table, c.column, err)
			}
		}
	}
	return nil
}

func columnExists(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	row := db.QueryRowContext(ctx, `SELECT 1 FROM information_schema.columns WHERE table_name=$1 AND column_name=$2`, table, column)
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
