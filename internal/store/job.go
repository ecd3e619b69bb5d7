package store

import (
	"context"
	"database/sql"
	"time"
)

// Job statuses.
const (
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// JobRun is one tracked background job, typically an index pass.
type JobRun struct {
	ID         int64
	Kind       string
	Status     string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// StartJob records a running job and returns its id.
func (s *Store) StartJob(ctx context.Context, kind string) (int64, error) {
	const op = "store.StartJob"
	var id int64
	err := s.write(ctx, op, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO job_run (kind, status, started_at) VALUES (?, ?, ?)
		`, kind, JobRunning, s.now().Unix())
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// FinishJob marks a job completed, or failed when an error message is
// given.
func (s *Store) FinishJob(ctx context.Context, id int64, errMsg string) error {
	const op = "store.FinishJob"
	status := JobCompleted
	if errMsg != "" {
		status = JobFailed
	}
	return s.write(ctx, op, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE job_run SET status = ?, error = ?, finished_at = ? WHERE id = ?
		`, status, errMsg, s.now().Unix(), id)
		if err != nil {
			return err
		}
		return requireRowAffected(res)
	})
}

// LatestJob returns the most recent job of a kind, or nil when none
// has run.
func (s *Store) LatestJob(ctx context.Context, kind string) (*JobRun, error) {
	const op = "store.LatestJob"
	if err := s.ready(); err != nil {
		return nil, err
	}

	var j JobRun
	var startedAt int64
	var finishedAt sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, kind, status, error, started_at, finished_at
		FROM job_run WHERE kind = ? ORDER BY id DESC LIMIT 1
	`, kind).Scan(&j.ID, &j.Kind, &j.Status, &j.Error, &startedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify(op, err)
	}
	j.StartedAt = time.Unix(startedAt, 0).UTC()
	j.FinishedAt = timeOrZero(finishedAt)
	return &j, nil
}

// ActiveJob returns the running job of a kind, or nil when idle.
func (s *Store) ActiveJob(ctx context.Context, kind string) (*JobRun, error) {
	j, err := s.LatestJob(ctx, kind)
	if err != nil {
		return nil, err
	}
	if j == nil || j.Status != JobRunning {
		return nil, nil
	}
	return j, nil
}

// FailStaleJobs marks jobs still flagged running from a previous
// process as failed. Called once at startup.
func (s *Store) FailStaleJobs(ctx context.Context) (int, error) {
	const op = "store.FailStaleJobs"
	var failed int
	err := s.write(ctx, op, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE job_run SET status = ?, error = 'interrupted', finished_at = ?
			WHERE status = ?
		`, JobFailed, s.now().Unix(), JobRunning)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		failed = int(n)
		return err
	})
	return failed, err
}
