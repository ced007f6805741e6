package jobstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"inferno/core/data"
)

const selectColumns = `
	id, idempotency_key, type, status, payload, result, priority, attempts,
	max_attempts, last_failure_reason, prompt_hash, creator_id, parent_id,
	fragment_index, total_fragments, lease_hostname, lease_expires_at,
	created_at, started_at, finished_at
`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(r rowScanner) (*Job, error) {
	var j Job
	var idempotencyKey, result, lastFailureReason, promptHash, creatorID, leaseHostname sql.NullString
	var parentID data.UUID
	var leaseExpiresAt, startedAt, finishedAt sql.NullInt64
	var createdAtUnix int64
	var payloadJSON string
	var jobType, status string

	err := r.Scan(
		&j.ID, &idempotencyKey, &jobType, &status, &payloadJSON, &result,
		&j.Priority, &j.Attempts, &j.MaxAttempts, &lastFailureReason, &promptHash,
		&creatorID, &parentID, &j.FragmentIndex, &j.TotalFragments, &leaseHostname,
		&leaseExpiresAt, &createdAtUnix, &startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Type = JobType(jobType)
	j.Status = Status(status)
	j.IdempotencyKey = idempotencyKey.String
	j.LastFailureReason = lastFailureReason.String
	j.PromptHash = promptHash.String
	j.CreatorID = creatorID.String
	j.LeaseHostname = leaseHostname.String
	j.CreatedAt = time.Unix(createdAtUnix, 0)

	if !parentID.IsZero() {
		id := parentID
		j.ParentID = &id
	}
	if leaseExpiresAt.Valid {
		t := time.Unix(leaseExpiresAt.Int64, 0)
		j.LeaseExpiresAt = &t
	}
	if startedAt.Valid {
		t := time.Unix(startedAt.Int64, 0)
		j.StartedAt = &t
	}
	if finishedAt.Valid {
		t := time.Unix(finishedAt.Int64, 0)
		j.FinishedAt = &t
	}

	if payloadJSON != "" {
		if err := json.Unmarshal([]byte(payloadJSON), &j.Payload); err != nil {
			return nil, fmt.Errorf("jobstore: unmarshal payload: %w", err)
		}
	}
	if result.Valid && result.String != "" && result.String != "null" {
		if err := json.Unmarshal([]byte(result.String), &j.Result); err != nil {
			return nil, fmt.Errorf("jobstore: unmarshal result: %w", err)
		}
	}

	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
