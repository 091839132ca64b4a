package store

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS images (
		id TEXT PRIMARY KEY,
		original_path TEXT NOT NULL,
		created_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`,
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		image_id TEXT NOT NULL,
		mode TEXT NOT NULL,
		provider TEXT,
		preset_id TEXT,
		intensity INTEGER,
		user_prompt TEXT,
		created_at TEXT NOT NULL DEFAULT (datetime('now')),
		FOREIGN KEY (image_id) REFERENCES images(id)
	)`,
	`CREATE TABLE IF NOT EXISTS attempts (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		"index" INTEGER NOT NULL,
		output_path TEXT NOT NULL,
		meta_json TEXT,
		revised_prompt TEXT,
		created_at TEXT NOT NULL DEFAULT (datetime('now')),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	)`,
	`CREATE TABLE IF NOT EXISTS winners (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL UNIQUE,
		attempt_id TEXT NOT NULL,
		created_at TEXT NOT NULL DEFAULT (datetime('now')),
		FOREIGN KEY (run_id) REFERENCES runs(id),
		FOREIGN KEY (attempt_id) REFERENCES attempts(id)
	)`,
	`CREATE TABLE IF NOT EXISTS saved_outputs (
		id TEXT PRIMARY KEY,
		attempt_id TEXT NOT NULL,
		saved_path TEXT NOT NULL,
		created_at TEXT NOT NULL DEFAULT (datetime('now')),
		FOREIGN KEY (attempt_id) REFERENCES attempts(id)
	)`,
	"CREATE INDEX IF NOT EXISTS idx_runs_image_id ON runs(image_id)",
	"CREATE INDEX IF NOT EXISTS idx_attempts_run_id ON attempts(run_id)",
	"CREATE INDEX IF NOT EXISTS idx_saved_outputs_attempt_id ON saved_outputs(attempt_id)",
}

// InitializeSchema creates the tables and indexes if they do not exist.
func InitializeSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("initialize schema: %w", err)
		}
	}
	return nil
}
