package postgres

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/postgres"
)

// schema is idempotent; Migrate may run on every start.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS copilots (
		copilot_id        BIGINT PRIMARY KEY,
		stage_name        TEXT NOT NULL,
		uploader_id       TEXT NOT NULL,
		views             BIGINT NOT NULL DEFAULT 0,
		rating_level      INT NOT NULL DEFAULT 0,
		rating_ratio      DOUBLE PRECISION NOT NULL DEFAULT 0,
		like_count        BIGINT NOT NULL DEFAULT 0,
		dislike_count     BIGINT NOT NULL DEFAULT 0,
		hot_score         DOUBLE PRECISION NOT NULL DEFAULT 0,
		title             TEXT NOT NULL DEFAULT '',
		details           TEXT NOT NULL DEFAULT '',
		first_upload_time TIMESTAMPTZ NOT NULL,
		upload_time       TIMESTAMPTZ NOT NULL,
		content           TEXT NOT NULL,
		status            TEXT NOT NULL DEFAULT 'PUBLIC',
		comment_status    TEXT NOT NULL DEFAULT 'ENABLED',
		"delete"          BOOLEAN NOT NULL DEFAULT FALSE,
		delete_time       TIMESTAMPTZ,
		notification      BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS copilots_hot_idx ON copilots (hot_score DESC, copilot_id DESC) WHERE NOT "delete"`,
	`CREATE INDEX IF NOT EXISTS copilots_views_idx ON copilots (views DESC, copilot_id DESC) WHERE NOT "delete"`,
	`CREATE INDEX IF NOT EXISTS copilots_uploader_idx ON copilots (uploader_id) WHERE NOT "delete"`,
	`CREATE TABLE IF NOT EXISTS copilot_operators (
		copilot_id BIGINT NOT NULL REFERENCES copilots (copilot_id),
		name       TEXT NOT NULL,
		PRIMARY KEY (copilot_id, name)
	)`,
	`CREATE INDEX IF NOT EXISTS copilot_operators_name_idx ON copilot_operators (name)`,
	`CREATE TABLE IF NOT EXISTS ratings (
		type      TEXT NOT NULL,
		key       TEXT NOT NULL,
		user_id   TEXT NOT NULL,
		rating    TEXT NOT NULL,
		rate_time TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (type, key, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS ratings_recent_idx ON ratings (type, rating, rate_time)`,
	`CREATE TABLE IF NOT EXISTS users (
		user_id   TEXT PRIMARY KEY,
		user_name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS user_follows (
		follower_id TEXT NOT NULL,
		followee_id TEXT NOT NULL,
		PRIMARY KEY (follower_id, followee_id)
	)`,
	`CREATE TABLE IF NOT EXISTS comments (
		comment_id BIGINT PRIMARY KEY,
		copilot_id BIGINT NOT NULL,
		"delete"   BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS comments_copilot_idx ON comments (copilot_id) WHERE NOT "delete"`,
	`CREATE TABLE IF NOT EXISTS stages (
		stage_id   TEXT PRIMARY KEY,
		level_id   TEXT NOT NULL,
		name       TEXT NOT NULL,
		close_time TIMESTAMPTZ,
		open       BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE INDEX IF NOT EXISTS stages_level_idx ON stages (level_id)`,
}

// Migrate creates any missing tables and indexes.
func Migrate(ctx context.Context, db *postgres.Client) error {
	for i, stmt := range schema {
		if _, err := db.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema statement %d: %w", i, err)
		}
	}
	return nil
}
