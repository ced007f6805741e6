// Package trace records a granular, per-step audit trail for one job run:
// one row per pipeline step, with input/output hashes, timing, and
// structured metadata, so a job's full execution history survives after the
// job itself has finished and its scratch directory is gone.
package trace

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"inferno/core/data"

	_ "modernc.org/sqlite"
)

// WorkflowTracer traces the steps of a single job run into
// workflow_execution_trace. workflowName is the job's type (tts,
// video_style_transfer, ...); workflowRunID is the job ID.
type WorkflowTracer struct {
	db            *sql.DB
	workflowName  string
	workflowRunID string
	machineName   string
	workerPID     int
}

// NewWorkflowTracer builds a tracer for one job run.
// db is the shared SQLite connection (the jobs database; no separate
// connection is opened). workflowName is the job type, workflowRunID the
// job ID, machineName the worker's hostname.
func NewWorkflowTracer(db *sql.DB, workflowName, workflowRunID, machineName string) (*WorkflowTracer, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	return &WorkflowTracer{
		db:            db,
		workflowName:  workflowName,
		workflowRunID: workflowRunID,
		machineName:   machineName,
		workerPID:     os.Getpid(),
	}, nil
}

// Close drops the tracer's reference to the shared connection; it does not
// close the connection itself, since ownership stays with whoever opened it.
func (wt *WorkflowTracer) Close() error {
	wt.db = nil
	return nil
}

// TraceStepStart records the start of one pipeline step.
// stepName identifies the step (e.g. "download", "run", "upload");
// stepIndex is its position in the pipeline; inputPath is the
// absolute path of a file this step consumes, if any ("" otherwise) and is
// hashed for the trace row. Returns a traceID for the matching
// TraceStepComplete/TraceStepFailed call.
func (wt *WorkflowTracer) TraceStepStart(stepName string, stepIndex int, inputPath string, metadata map[string]interface{}) (string, error) {
	traceID := generateTraceID()

	var inputHash sql.NullString
	if inputPath != "" {
		hash, err := HashFile(inputPath)
		if err == nil {
			inputHash = sql.NullString{String: hash, Valid: true}
		} else {
			fmt.Fprintf(os.Stderr, "[WARN] failed to hash input file %s: %v\n", inputPath, err)
		}
	}

	metadataJSON := "{}"
	if len(metadata) > 0 {
		jsonBytes, err := json.Marshal(metadata)
		if err != nil {
			return "", fmt.Errorf("marshal metadata: %w", err)
		}
		metadataJSON = string(jsonBytes)
	}

	startedAt := currentTimeMillis()

	_, err := data.ExecWithRetry(wt.db, `
		INSERT INTO workflow_execution_trace (
			trace_id, workflow_name, workflow_run_id, step_name, step_index,
			step_status, input_file_path, input_sha256, machine_name, worker_pid,
			started_at, step_metadata
		) VALUES (?, ?, ?, ?, ?, 'started', ?, ?, ?, ?, ?, ?)
	`, traceID, wt.workflowName, wt.workflowRunID, stepName, stepIndex,
		inputPath, inputHash, wt.machineName, wt.workerPID, startedAt, metadataJSON)

	if err != nil {
		return "", fmt.Errorf("insert trace step start: %w", err)
	}

	return traceID, nil
}

// TraceStepComplete marks a step complete, recording its output path and
// any extra artifact paths. metadata is merged with whatever TraceStepStart
// already stored.
func (wt *WorkflowTracer) TraceStepComplete(traceID string, outputPath string, artifactPaths []string, metadata map[string]interface{}) error {
	completedAt := currentTimeMillis()

	var outputHash sql.NullString
	if outputPath != "" {
		hash, err := HashFile(outputPath)
		if err == nil {
			outputHash = sql.NullString{String: hash, Valid: true}
		} else {
			fmt.Fprintf(os.Stderr, "[WARN] failed to hash output file %s: %v\n", outputPath, err)
		}
	}

	artifactsJSON := "[]"
	if len(artifactPaths) > 0 {
		jsonBytes, err := json.Marshal(artifactPaths)
		if err != nil {
			return fmt.Errorf("marshal artifact paths: %w", err)
		}
		artifactsJSON = string(jsonBytes)
	}

	metadataJSON := "{}"
	if len(metadata) > 0 {
		jsonBytes, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		metadataJSON = string(jsonBytes)
	}

	_, err := data.ExecWithRetry(wt.db, `
		UPDATE workflow_execution_trace
		SET step_status = 'completed',
		    output_file_path = ?,
		    output_sha256 = ?,
		    artifact_paths = ?,
		    completed_at = ?,
		    duration_ms = ? - started_at,
		    step_metadata = json_patch(step_metadata, ?)
		WHERE trace_id = ?
	`, outputPath, outputHash, artifactsJSON, completedAt, completedAt, metadataJSON, traceID)

	if err != nil {
		return fmt.Errorf("update trace step complete: %w", err)
	}

	return nil
}

// TraceStepFailed marks a step failed with an error code and message.
func (wt *WorkflowTracer) TraceStepFailed(traceID string, errorCode, errorMsg string) error {
	completedAt := currentTimeMillis()

	metadata := map[string]interface{}{
		"error_code":    errorCode,
		"error_message": errorMsg,
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal error metadata: %w", err)
	}

	_, err = data.ExecWithRetry(wt.db, `
		UPDATE workflow_execution_trace
		SET step_status = 'failed',
		    completed_at = ?,
		    duration_ms = ? - started_at,
		    step_metadata = json_patch(step_metadata, ?)
		WHERE trace_id = ?
	`, completedAt, completedAt, string(metadataJSON), traceID)

	if err != nil {
		return fmt.Errorf("update trace step failed: %w", err)
	}

	return nil
}

// CheckDuplicate reports whether inputHash was already processed to
// completion under this tracer's workflow name, and the trace ID of that
// prior run if so.
func (wt *WorkflowTracer) CheckDuplicate(inputHash string) (bool, string, error) {
	var existingTraceID string
	err := wt.db.QueryRow(`
		SELECT trace_id
		FROM workflow_execution_trace
		WHERE workflow_name = ? AND input_sha256 = ? AND step_status = 'completed'
		ORDER BY started_at DESC
		LIMIT 1
	`, wt.workflowName, inputHash).Scan(&existingTraceID)

	if err == sql.ErrNoRows {
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("check duplicate: %w", err)
	}

	return true, existingTraceID, nil
}

// GetWorkflowRun returns every traced step of one job run, in step order.
func (wt *WorkflowTracer) GetWorkflowRun(workflowRunID string) ([]map[string]interface{}, error) {
	rows, err := wt.db.Query(`
		SELECT trace_id, step_name, step_index, step_status, input_file_path,
		       output_file_path, input_sha256, output_sha256, started_at,
		       completed_at, duration_ms, step_metadata
		FROM workflow_execution_trace
		WHERE workflow_run_id = ?
		ORDER BY step_index ASC
	`, workflowRunID)
	if err != nil {
		return nil, fmt.Errorf("query workflow run: %w", err)
	}
	defer rows.Close()

	var steps []map[string]interface{}
	for rows.Next() {
		var traceID, stepName, stepStatus string
		var inputPath, outputPath, inputHash, outputHash, metadata sql.NullString
		var stepIndex, startedAt sql.NullInt64
		var completedAt, durationMs sql.NullInt64

		err := rows.Scan(&traceID, &stepName, &stepIndex, &stepStatus, &inputPath,
			&outputPath, &inputHash, &outputHash, &startedAt, &completedAt,
			&durationMs, &metadata)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		step := map[string]interface{}{
			"trace_id":    traceID,
			"step_name":   stepName,
			"step_index":  int(stepIndex.Int64),
			"step_status": stepStatus,
		}

		if inputPath.Valid {
			step["input_file_path"] = inputPath.String
		}
		if outputPath.Valid {
			step["output_file_path"] = outputPath.String
		}
		if inputHash.Valid {
			step["input_sha256"] = inputHash.String
		}
		if outputHash.Valid {
			step["output_sha256"] = outputHash.String
		}
		if startedAt.Valid {
			step["started_at"] = startedAt.Int64
		}
		if completedAt.Valid {
			step["completed_at"] = completedAt.Int64
		}
		if durationMs.Valid {
			step["duration_ms"] = durationMs.Int64
		}
		if metadata.Valid {
			step["step_metadata"] = metadata.String
		}

		steps = append(steps, step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return steps, nil
}

// HashFile computes a file's sha256 in streaming fashion.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func generateTraceID() string {
	return "trace_" + data.NewUUID().String()
}

func currentTimeMillis() int64 {
	return time.Now().UnixMilli()
}
