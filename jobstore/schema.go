package jobstore

import (
	"database/sql"
	"fmt"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS jobs (
	id BLOB PRIMARY KEY,
	idempotency_key TEXT,
	type TEXT NOT NULL,
	status TEXT NOT NULL,
	payload TEXT NOT NULL,
	result TEXT,
	priority INTEGER NOT NULL DEFAULT 0,
	attempts INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 3,
	last_failure_reason TEXT,
	prompt_hash TEXT,
	creator_id TEXT,
	parent_id BLOB,
	fragment_index INTEGER NOT NULL DEFAULT 0,
	total_fragments INTEGER NOT NULL DEFAULT 1,
	lease_hostname TEXT,
	lease_expires_at INTEGER,
	created_at INTEGER NOT NULL,
	started_at INTEGER,
	finished_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_status_priority ON jobs(status, priority DESC, created_at ASC);
CREATE INDEX IF NOT EXISTS idx_jobs_parent ON jobs(parent_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_idempotency_key ON jobs(idempotency_key) WHERE idempotency_key IS NOT NULL;

CREATE TABLE IF NOT EXISTS model_weights (
	token TEXT PRIMARY KEY,
	category TEXT NOT NULL,
	type TEXT NOT NULL,
	title TEXT NOT NULL,
	file_size_bytes INTEGER NOT NULL,
	sha256 TEXT NOT NULL,
	bucket_hash TEXT NOT NULL,
	bucket_prefix TEXT NOT NULL,
	bucket_extension TEXT NOT NULL,
	creator TEXT,
	visibility TEXT NOT NULL DEFAULT 'private',
	version INTEGER NOT NULL DEFAULT 1,
	deleted_at INTEGER
);
`

// idempotentMigrations adds columns introduced after the original schema
// landed; ALTER TABLE ADD COLUMN errors on an already-present column are
// ignored, matching the migration discipline this store is grounded on.
var idempotentMigrations = []string{
	"ALTER TABLE jobs ADD COLUMN prompt_hash TEXT",
	"ALTER TABLE jobs ADD COLUMN parent_id BLOB",
	"ALTER TABLE jobs ADD COLUMN fragment_index INTEGER NOT NULL DEFAULT 0",
	"ALTER TABLE jobs ADD COLUMN total_fragments INTEGER NOT NULL DEFAULT 1",
}

// promptHashIndexDDL dedups in-flight/completed jobs by semantic prompt
// hash; a partial index lets the same hash recur freely once terminal.
const promptHashIndexDDL = `
CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_prompt_hash ON jobs(prompt_hash)
WHERE prompt_hash IS NOT NULL AND status IN ('pending', 'done')
`

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("jobstore: create schema: %w", err)
	}

	for _, stmt := range idempotentMigrations {
		_, _ = db.Exec(stmt) // duplicate column errors are expected and ignored
	}

	if _, err := db.Exec(promptHashIndexDDL); err != nil {
		return fmt.Errorf("jobstore: create prompt hash index: %w", err)
	}

	return nil
}
