package trace

import (
	"database/sql"
	"fmt"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS workflow_execution_trace (
	trace_id TEXT PRIMARY KEY,
	workflow_name TEXT NOT NULL,
	workflow_run_id TEXT NOT NULL,
	step_name TEXT NOT NULL,
	step_index INTEGER NOT NULL,
	step_status TEXT NOT NULL,
	input_file_path TEXT,
	input_sha256 TEXT,
	output_file_path TEXT,
	output_sha256 TEXT,
	artifact_paths TEXT NOT NULL DEFAULT '[]',
	machine_name TEXT,
	worker_pid INTEGER,
	started_at INTEGER NOT NULL,
	completed_at INTEGER,
	duration_ms INTEGER,
	step_metadata TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_workflow_trace_run ON workflow_execution_trace(workflow_run_id, step_index);
CREATE INDEX IF NOT EXISTS idx_workflow_trace_dedup ON workflow_execution_trace(workflow_name, input_sha256, step_status);
`

// EnsureSchema creates workflow_execution_trace if it does not already
// exist. Called once at startup against the shared jobs database
// connection, mirroring jobstore's own initSchema discipline.
func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("trace: create schema: %w", err)
	}
	return nil
}
