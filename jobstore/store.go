package jobstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"inferno/core/data"
)

// Store is the typed accessor over the durable job table (C5).
type Store struct {
	db *sql.DB
}

// Open wraps an existing SQLite connection, creating the jobs schema if
// absent.
func Open(db *sql.DB) (*Store, error) {
	if err := initSchema(db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Submit inserts a new job in StatusQueued. If job.IdempotencyKey collides
// with an existing row, or job.PromptHash matches an in-flight or completed
// job, the existing job is returned instead (idempotent resubmission).
func (s *Store) Submit(job *Job) (*Job, error) {
	payloadJSON, err := json.Marshal(job.Payload)
	if err != nil {
		return nil, fmt.Errorf("jobstore: marshal payload: %w", err)
	}

	if job.ID.IsZero() {
		job.ID = data.NewUUID()
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = 3
	}

	// prompt_hash's unique index is partial on status IN ('pending', 'done'),
	// but every row here is inserted with status 'queued', so a collision on
	// that index never actually fires at insert time. Check explicitly
	// instead of relying on isUniqueViolation below to catch it.
	if job.PromptHash != "" {
		if existing, ok, err := s.FindByPromptHash(job.PromptHash); err == nil && ok {
			return existing, nil
		}
	}

	job.Status = StatusQueued
	job.CreatedAt = time.Now()

	var parentID interface{}
	if job.ParentID != nil {
		parentID = *job.ParentID
	}
	var idempotencyKey interface{}
	if job.IdempotencyKey != "" {
		idempotencyKey = job.IdempotencyKey
	}

	_, err = data.ExecWithRetry(s.db, `
		INSERT INTO jobs (
			id, idempotency_key, type, status, payload, priority, attempts,
			max_attempts, prompt_hash, creator_id, parent_id, fragment_index,
			total_fragments, created_at
		) VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, idempotencyKey, string(job.Type), string(job.Status), string(payloadJSON),
		job.Priority, job.MaxAttempts, nullIfEmpty(job.PromptHash), nullIfEmpty(job.CreatorID),
		parentID, job.FragmentIndex, job.TotalFragments, job.CreatedAt.Unix())

	if isUniqueViolation(err) {
		if existing, findErr := s.findByIdempotencyKey(job.IdempotencyKey); findErr == nil && existing != nil {
			return existing, nil
		}
		if job.PromptHash != "" {
			if existing, _, findErr := s.FindByPromptHash(job.PromptHash); findErr == nil && existing != nil {
				return existing, nil
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("jobstore: insert job: %w", err)
	}

	return job, nil
}

// ListAvailable returns up to batchSize queued jobs with no live lease,
// sorted by priority when sortByPriority is true, else FIFO by creation
// time, implementing the starvation-prevention toggle of the dispatch loop.
func (s *Store) ListAvailable(batchSize int, sortByPriority bool) ([]*Job, error) {
	order := "created_at ASC"
	if sortByPriority {
		order = "priority DESC, created_at ASC"
	}

	query := fmt.Sprintf(`
		SELECT %s FROM jobs
		WHERE status = ? AND (lease_expires_at IS NULL OR lease_expires_at < ?)
		ORDER BY %s
		LIMIT ?
	`, selectColumns, order)

	rows, err := s.db.Query(query, string(StatusQueued), time.Now().Unix(), batchSize)
	if err != nil {
		return nil, fmt.Errorf("jobstore: list available: %w", err)
	}
	defer data.SafeClose(rows, "jobstore: list available rows")

	return scanJobs(rows)
}

// LockAndMarkPending atomically transitions job from queued to pending with
// a lease held by hostname. Returns false if another worker already holds
// the job or it is no longer queued.
func (s *Store) LockAndMarkPending(jobID data.UUID, hostname string, leaseDuration time.Duration) (bool, error) {
	now := time.Now()
	result, err := data.ExecWithRetry(s.db, `
		UPDATE jobs SET status = ?, lease_hostname = ?, lease_expires_at = ?, started_at = ?
		WHERE id = ? AND status = ? AND (lease_expires_at IS NULL OR lease_expires_at < ?)
	`, string(StatusPending), hostname, now.Add(leaseDuration).Unix(), now.Unix(),
		jobID, string(StatusQueued), now.Unix())
	if err != nil {
		return false, fmt.Errorf("jobstore: lock job: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Release reverts a pending job back to queued without touching its
// attempts counter. Used when C1's strategizer returns WaitOrSkip.
func (s *Store) Release(jobID data.UUID) error {
	_, err := data.ExecWithRetry(s.db, `
		UPDATE jobs SET status = ?, lease_hostname = NULL, lease_expires_at = NULL, started_at = NULL
		WHERE id = ? AND status = ?
	`, string(StatusQueued), jobID, string(StatusPending))
	return err
}

// MarkDone marks a job finished successfully with its result reference.
func (s *Store) MarkDone(jobID data.UUID, result map[string]interface{}) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("jobstore: marshal result: %w", err)
	}
	_, err = data.ExecWithRetry(s.db, `
		UPDATE jobs SET status = ?, result = ?, finished_at = ? WHERE id = ?
	`, string(StatusDone), string(resultJSON), time.Now().Unix(), jobID)
	return err
}

// MarkFailure increments attempts and requeues the job, unless attempts has
// reached maxAttempts, in which case it becomes permanently_dead.
func (s *Store) MarkFailure(jobID data.UUID, reason string) error {
	_, err := data.ExecWithRetry(s.db, `
		UPDATE jobs SET
			status = CASE WHEN attempts + 1 >= max_attempts THEN ? ELSE ? END,
			attempts = attempts + 1,
			last_failure_reason = ?,
			lease_hostname = NULL,
			lease_expires_at = NULL
		WHERE id = ?
	`, string(StatusPermanentlyDead), string(StatusQueued), reason, jobID)
	return err
}

// MarkPermanentlyDead marks a job terminally failed regardless of its
// remaining attempts budget (model not found/deleted, poison payload).
func (s *Store) MarkPermanentlyDead(jobID data.UUID, reason string) error {
	_, err := data.ExecWithRetry(s.db, `
		UPDATE jobs SET status = ?, last_failure_reason = ?, finished_at = ? WHERE id = ?
	`, string(StatusPermanentlyDead), reason, time.Now().Unix(), jobID)
	return err
}

// MarkCancelled records a user-initiated cancellation.
func (s *Store) MarkCancelled(jobID data.UUID) error {
	_, err := data.ExecWithRetry(s.db, `
		UPDATE jobs SET status = ?, finished_at = ? WHERE id = ?
	`, string(StatusCancelledByUser), time.Now().Unix(), jobID)
	return err
}

// GetStatus returns just a job's status, used by the cancellation watcher.
func (s *Store) GetStatus(jobID data.UUID) (Status, error) {
	var status string
	err := s.db.QueryRow(`SELECT status FROM jobs WHERE id = ?`, jobID).Scan(&status)
	if err != nil {
		return "", err
	}
	return Status(status), nil
}

// Get returns a single job by ID.
func (s *Store) Get(jobID data.UUID) (*Job, error) {
	row := s.db.QueryRow(fmt.Sprintf(`SELECT %s FROM jobs WHERE id = ?`, selectColumns), jobID)
	return scanJob(row)
}

// FindByPromptHash returns an in-flight or completed job with the same
// semantic prompt hash, if any, letting a duplicate request attach to it
// instead of re-running inference.
func (s *Store) FindByPromptHash(hash string) (*Job, bool, error) {
	row := s.db.QueryRow(fmt.Sprintf(`
		SELECT %s FROM jobs WHERE prompt_hash = ? AND status IN (?, ?)
		ORDER BY created_at DESC LIMIT 1
	`, selectColumns), hash, string(StatusPending), string(StatusDone))

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return job, true, nil
}

// ResetExpiredLeases requeues any job whose lease has expired (a crashed
// worker's abandoned claim). The dispatch loop runs it once at startup; it is
// not called periodically.
func (s *Store) ResetExpiredLeases() (int64, error) {
	result, err := data.ExecWithRetry(s.db, `
		UPDATE jobs SET status = ?, lease_hostname = NULL, lease_expires_at = NULL, started_at = NULL
		WHERE status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at < ?
	`, string(StatusQueued), string(StatusPending), time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("jobstore: reset expired leases: %w", err)
	}
	return result.RowsAffected()
}

// ListFragments returns every fragment job sharing parentID, ordered by
// fragment index, used by the fan-in aggregation step.
func (s *Store) ListFragments(parentID data.UUID) ([]*Job, error) {
	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT %s FROM jobs WHERE parent_id = ? ORDER BY fragment_index ASC
	`, selectColumns), parentID)
	if err != nil {
		return nil, fmt.Errorf("jobstore: list fragments: %w", err)
	}
	defer data.SafeClose(rows, "jobstore: list fragments rows")
	return scanJobs(rows)
}

func (s *Store) findByIdempotencyKey(key string) (*Job, error) {
	if key == "" {
		return nil, sql.ErrNoRows
	}
	row := s.db.QueryRow(fmt.Sprintf(`SELECT %s FROM jobs WHERE idempotency_key = ?`, selectColumns), key)
	return scanJob(row)
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// isUniqueViolation matches modernc.org/sqlite's convention of surfacing
// constraint failures via the message text rather than a typed error.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
