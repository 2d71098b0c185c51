package store

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Job types understood by the scheduler.
const (
	JobTypeAnalysis = "analysis"
	JobTypeCleanup  = "cleanup"
)

// Job priorities. Higher claims first.
const (
	PriorityLow    = 0
	PriorityMedium = 1
	PriorityHigh   = 2
)

// Job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Job is one durable work item. A job in "running" always carries an owner
// and a heartbeat; a stale heartbeat means the worker died and the job is
// eligible for recovery.
type Job struct {
	ID            string
	Type          string
	TargetType    string
	TargetID      string
	PayloadJSON   string
	Priority      int
	Status        string
	ExecuteAfter  time.Time
	Attempts      int
	MaxAttempts   int
	Owner         string
	LastHeartbeat time.Time
	CreatedAt     time.Time
	CompletedAt   time.Time
	Result        string
	LastError     string
}

// JobStats holds per-status job counts for observability.
type JobStats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// EnqueueJob inserts a pending job. Missing ID, ExecuteAfter and MaxAttempts
// get defaults. The store does not de-duplicate; callers check
// HasActiveJob first when they want at-most-one per target.
func (s *Store) EnqueueJob(job Job) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = 3
	}
	if job.PayloadJSON == "" {
		job.PayloadJSON = "{}"
	}
	now := time.Now().UTC()
	if job.ExecuteAfter.IsZero() {
		job.ExecuteAfter = now
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, target_type, target_id, payload_json, priority, status,
			execute_after, attempts, max_attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 'pending', ?, 0, ?, ?)`,
		job.ID, job.Type, job.TargetType, job.TargetID, job.PayloadJSON, job.Priority,
		fmtTime(job.ExecuteAfter), job.MaxAttempts, fmtTime(now),
	)
	if err != nil {
		return "", fmt.Errorf("enqueuing %s job: %w", job.Type, err)
	}
	return job.ID, nil
}

// HasActiveJob reports whether a pending or running job of the given type
// exists for the target. Enqueue-side dedup convention.
func (s *Store) HasActiveJob(jobType, targetType, targetID string) (bool, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM jobs
		WHERE type = ? AND target_type = ? AND target_id = ? AND status IN ('pending', 'running')`,
		jobType, targetType, targetID,
	).Scan(&n)
	return n > 0, err
}

// HasJobCreatedSince reports whether any job of the given type was created
// at or after since (used for the once-per-day cleanup job).
func (s *Store) HasJobCreatedSince(jobType string, since time.Time) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM jobs WHERE type = ? AND created_at >= ?`,
		jobType, fmtTime(since)).Scan(&n)
	return n > 0, err
}

// ClaimNext atomically claims the next due pending job for workerID.
// Selection order: priority descending, execute_after ascending, created_at
// ascending. The select and the conditional update run in one transaction
// so no two workers ever claim the same row. Claiming counts as an attempt.
// Returns nil when nothing is due.
func (s *Store) ClaimNext(workerID string) (*Job, error) {
	now := time.Now().UTC()
	nowStr := fmtTime(now)

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var j Job
	var executeAfter, createdAt string
	var owner, heartbeat, completedAt, result, lastError sql.NullString
	err = tx.QueryRow(`
		SELECT id, type, target_type, target_id, payload_json, priority, status,
			execute_after, attempts, max_attempts, owner, last_heartbeat,
			created_at, completed_at, result, last_error
		FROM jobs
		WHERE status = 'pending' AND execute_after <= ? AND attempts < max_attempts
		ORDER BY priority DESC, execute_after ASC, created_at ASC
		LIMIT 1`, nowStr,
	).Scan(
		&j.ID, &j.Type, &j.TargetType, &j.TargetID, &j.PayloadJSON, &j.Priority, &j.Status,
		&executeAfter, &j.Attempts, &j.MaxAttempts, &owner, &heartbeat,
		&createdAt, &completedAt, &result, &lastError,
	)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`
		UPDATE jobs SET status = 'running', owner = ?, last_heartbeat = ?, attempts = attempts + 1
		WHERE id = ? AND status = 'pending'`,
		workerID, nowStr, j.ID,
	)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("marking job running: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking claimed rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = JobRunning
	j.Owner = workerID
	j.Attempts++
	j.LastHeartbeat = now
	j.ExecuteAfter = parseTime(executeAfter)
	j.CreatedAt = parseTime(createdAt)
	j.LastError = lastError.String
	j.Result = result.String
	return &j, nil
}

// Heartbeat extends the lease on a running job. Call periodically during
// long executions.
func (s *Store) Heartbeat(jobID string) error {
	res, err := s.db.Exec(`UPDATE jobs SET last_heartbeat = ? WHERE id = ? AND status = 'running'`,
		fmtTime(time.Now()), jobID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteJob marks a running job completed and records its result.
func (s *Store) CompleteJob(jobID, result string) error {
	res, err := s.db.Exec(`
		UPDATE jobs SET status = 'completed', result = ?, completed_at = ?
		WHERE id = ? AND status = 'running'`,
		result, fmtTime(time.Now()), jobID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob records a failure. With attempts remaining the job goes back to
// pending with exponential backoff; otherwise it stays failed for good —
// exhausted jobs are never requeued automatically.
func (s *Store) FailJob(jobID, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, jobID).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if attempts >= maxAttempts {
		_, err = tx.Exec(`
			UPDATE jobs SET status = 'failed', owner = NULL, last_error = ?, completed_at = ?
			WHERE id = ?`,
			errMsg, fmtTime(now), jobID)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		_, err = tx.Exec(`
			UPDATE jobs SET status = 'pending', owner = NULL, last_error = ?, execute_after = ?
			WHERE id = ?`,
			errMsg, fmtTime(now.Add(backoff)), jobID)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

// RecoverStuck resets running jobs whose heartbeat is older than timeout
// back to pending, clearing the owner and appending a recovery note to the
// error trail. Jobs out of attempts are left alone. Returns the number of
// jobs recovered. This opportunistic scan is the sole liveness mechanism
// against dead workers.
func (s *Store) RecoverStuck(timeout time.Duration) (int, error) {
	now := time.Now().UTC()
	cutoff := fmtTime(now.Add(-timeout))
	res, err := s.db.Exec(`
		UPDATE jobs
		SET status = 'pending', owner = NULL,
			last_error = TRIM(COALESCE(last_error, '') || ' | recovered from stale lease at ' || ?, ' |')
		WHERE status = 'running' AND last_heartbeat < ? AND attempts < max_attempts`,
		fmtTime(now), cutoff)
	if err != nil {
		return 0, fmt.Errorf("recovering stuck jobs: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// GetJob reads one job by id.
func (s *Store) GetJob(jobID string) (Job, error) {
	var j Job
	var executeAfter, createdAt string
	var owner, heartbeat, completedAt, result, lastError sql.NullString
	err := s.db.QueryRow(`
		SELECT id, type, target_type, target_id, payload_json, priority, status,
			execute_after, attempts, max_attempts, owner, last_heartbeat,
			created_at, completed_at, result, last_error
		FROM jobs WHERE id = ?`, jobID,
	).Scan(
		&j.ID, &j.Type, &j.TargetType, &j.TargetID, &j.PayloadJSON, &j.Priority, &j.Status,
		&executeAfter, &j.Attempts, &j.MaxAttempts, &owner, &heartbeat,
		&createdAt, &completedAt, &result, &lastError,
	)
	if err == sql.ErrNoRows {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}
	j.ExecuteAfter = parseTime(executeAfter)
	j.CreatedAt = parseTime(createdAt)
	j.Owner = owner.String
	if heartbeat.Valid {
		j.LastHeartbeat = parseTime(heartbeat.String)
	}
	if completedAt.Valid {
		j.CompletedAt = parseTime(completedAt.String)
	}
	j.Result = result.String
	j.LastError = lastError.String
	return j, nil
}

// LastCompletedAt returns the completion time of the most recent completed
// job of the given type for a target, or zero time when none exists.
// Used for analysis cooldown checks.
func (s *Store) LastCompletedAt(jobType, targetType, targetID string) (time.Time, error) {
	var completed sql.NullString
	err := s.db.QueryRow(`
		SELECT MAX(completed_at) FROM jobs
		WHERE type = ? AND target_type = ? AND target_id = ? AND status = 'completed'`,
		jobType, targetType, targetID).Scan(&completed)
	if err != nil {
		return time.Time{}, err
	}
	if !completed.Valid {
		return time.Time{}, nil
	}
	return parseTime(completed.String), nil
}

// Stats returns job counts by status.
func (s *Store) Stats() (JobStats, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return JobStats{}, err
	}
	defer rows.Close()
	var st JobStats
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return JobStats{}, err
		}
		switch status {
		case JobPending:
			st.Pending = n
		case JobRunning:
			st.Running = n
		case JobCompleted:
			st.Completed = n
		case JobFailed:
			st.Failed = n
		}
	}
	return st, rows.Err()
}

// PruneCompletedJobs deletes completed jobs finished before cutoff. Failed
// jobs are kept as the operator's record.
func (s *Store) PruneCompletedJobs(cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM jobs WHERE status = 'completed' AND completed_at < ?`, fmtTime(cutoff))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
