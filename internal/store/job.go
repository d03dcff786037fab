package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/weekplate/internal/model"
)

// ErrDuplicateJob is returned when a live job already holds the unique key.
var ErrDuplicateJob = errors.New("a live job with this key already exists")

// JobStore persists queued background work. Times are stored as unix
// milliseconds.
type JobStore struct {
	db *sql.DB
}

func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db}
}

const jobCols = `id, kind, unique_key, payload, status, attempts, max_attempts, run_at, locked_until, last_error, created_at, updated_at`

func scanJob(scanner interface{ Scan(...any) error }) (*model.Job, error) {
	var (
		j                           model.Job
		status                      string
		runAt, createdAt, updatedAt int64
		lockedUntil                 sql.NullInt64
		uniqueKey                   sql.NullString
	)
	err := scanner.Scan(&j.ID, &j.Kind, &uniqueKey, &j.Payload, &status, &j.Attempts, &j.MaxAttempts,
		&runAt, &lockedUntil, &j.LastError, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	j.Status = model.JobStatus(status)
	j.UniqueKey = uniqueKey.String
	j.RunAt = time.UnixMilli(runAt).UTC()
	j.CreatedAt = time.UnixMilli(createdAt).UTC()
	j.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	if lockedUntil.Valid {
		t := time.UnixMilli(lockedUntil.Int64).UTC()
		j.LockedUntil = &t
	}
	return &j, nil
}

func (s *JobStore) Enqueue(kind string, payload []byte, maxAttempts int, runAt time.Time) (*model.Job, error) {
	return s.insert(kind, sql.NullString{}, payload, maxAttempts, runAt)
}

// EnqueueUnique inserts a job unless another queued, running or retrying job
// holds key, in which case it returns ErrDuplicateJob.
func (s *JobStore) EnqueueUnique(kind, key string, payload []byte, maxAttempts int, runAt time.Time) (*model.Job, error) {
	return s.insert(kind, sql.NullString{String: key, Valid: key != ""}, payload, maxAttempts, runAt)
}

func (s *JobStore) insert(kind string, key sql.NullString, payload []byte, maxAttempts int, runAt time.Time) (*model.Job, error) {
	id := uuid.NewString()
	now := time.Now().UnixMilli()
	_, err := s.db.Exec(
		`INSERT INTO jobs (id, kind, unique_key, payload, status, max_attempts, run_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, kind, key, payload, string(model.JobQueued), maxAttempts, runAt.UnixMilli(), now, now,
	)
	if isUniqueViolation(err) {
		return nil, ErrDuplicateJob
	}
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return s.GetByID(id)
}

// HasLive reports whether a queued, running or retrying job holds key.
func (s *JobStore) HasLive(key string) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM jobs WHERE unique_key = ? AND status IN (?, ?, ?)`,
		key, string(model.JobQueued), string(model.JobRunning), string(model.JobRetry),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check live job: %w", err)
	}
	return n > 0, nil
}

func (s *JobStore) GetByID(id string) (*model.Job, error) {
	row := s.db.QueryRow(`SELECT `+jobCols+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// ClaimNext atomically takes the next runnable job and leases it until
// now+lease. Running jobs whose lease has expired are runnable again.
// Returns nil when nothing is due.
func (s *JobStore) ClaimNext(kinds []string, now time.Time, lease time.Duration) (*model.Job, error) {
	if len(kinds) == 0 {
		return nil, nil
	}

	nowMs := now.UnixMilli()
	args := []any{string(model.JobRunning), now.Add(lease).UnixMilli(), nowMs}

	kindList := ""
	for i, k := range kinds {
		if i > 0 {
			kindList += ", "
		}
		kindList += "?"
		args = append(args, k)
	}
	args = append(args, string(model.JobQueued), string(model.JobRetry), nowMs, string(model.JobRunning), nowMs)

	row := s.db.QueryRow(
		`UPDATE jobs
		 SET status = ?, attempts = attempts + 1, locked_until = ?, updated_at = ?
		 WHERE id = (
			SELECT id FROM jobs
			WHERE kind IN (`+kindList+`)
			  AND ((status IN (?, ?) AND run_at <= ?) OR (status = ? AND locked_until < ?))
			ORDER BY run_at, created_at
			LIMIT 1
		 )
		 RETURNING `+jobCols,
		args...,
	)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return j, nil
}

// Extend pushes the lease of a running job forward.
func (s *JobStore) Extend(id string, until time.Time) error {
	_, err := s.db.Exec(
		`UPDATE jobs SET locked_until = ?, updated_at = ? WHERE id = ? AND status = ?`,
		until.UnixMilli(), time.Now().UnixMilli(), id, string(model.JobRunning),
	)
	if err != nil {
		return fmt.Errorf("extend job lease: %w", err)
	}
	return nil
}

func (s *JobStore) Complete(id string) error {
	return s.finish(id, model.JobDone, "", nil)
}

// Retry schedules another attempt at runAt.
func (s *JobStore) Retry(id string, lastError string, runAt time.Time) error {
	return s.finish(id, model.JobRetry, lastError, &runAt)
}

// Bury marks a job as permanently failed.
func (s *JobStore) Bury(id string, lastError string) error {
	return s.finish(id, model.JobDead, lastError, nil)
}

func (s *JobStore) finish(id string, status model.JobStatus, lastError string, runAt *time.Time) error {
	now := time.Now().UnixMilli()
	var err error
	if runAt != nil {
		_, err = s.db.Exec(
			`UPDATE jobs SET status = ?, last_error = ?, run_at = ?, locked_until = NULL, updated_at = ? WHERE id = ?`,
			string(status), lastError, runAt.UnixMilli(), now, id,
		)
	} else {
		_, err = s.db.Exec(
			`UPDATE jobs SET status = ?, last_error = ?, locked_until = NULL, updated_at = ? WHERE id = ?`,
			string(status), lastError, now, id,
		)
	}
	if err != nil {
		return fmt.Errorf("set job %s: %w", status, err)
	}
	return nil
}

// CountByStatus reports how many jobs are in status. /health uses it for
// queue depth.
func (s *JobStore) CountByStatus(status model.JobStatus) (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM jobs WHERE status = ?`, string(status)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return n, nil
}
