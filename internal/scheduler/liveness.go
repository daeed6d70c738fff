package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dohr-michael/steward/internal/storage/sqlite"
)

var (
	ErrBusy     = errors.New("worker is busy")
	ErrNotOwner = errors.New("liveness record is not owned by this worker")
)

// AgentStatus is the state of the liveness record.
type AgentStatus string

const (
	StatusIdle       AgentStatus = "IDLE"
	StatusProcessing AgentStatus = "PROCESSING"
)

// Record is the singleton liveness row.
type Record struct {
	Status       AgentStatus `json:"status"`
	TaskID       string      `json:"task_id,omitempty"`
	Owner        string      `json:"owner,omitempty"`
	LastActivity time.Time   `json:"last_activity"`
	Processed    int64       `json:"processed"`
	Errors       int64       `json:"errors"`
}

// StaleAt reports whether a PROCESSING record has gone quiet for longer than
// staleAfter as of now.
func (r Record) StaleAt(now time.Time, staleAfter time.Duration) bool {
	return r.Status == StatusProcessing && r.LastActivity.Before(now.Add(-staleAfter))
}

// Liveness is the durable claim lock shared by every worker instance. Each
// write is a single conditional UPDATE, so the database arbitrates races.
type Liveness struct {
	db         *sql.DB
	owner      string
	staleAfter time.Duration
	now        func() time.Time
}

// NewLiveness binds the record to a worker identity.
func NewLiveness(db *sql.DB, owner string, staleAfter time.Duration) *Liveness {
	return &Liveness{db: db, owner: owner, staleAfter: staleAfter, now: time.Now}
}

// Owner returns the worker identity used for claims.
func (l *Liveness) Owner() string { return l.owner }

// StaleAfter returns the staleness window.
func (l *Liveness) StaleAfter() time.Duration { return l.staleAfter }

func (l *Liveness) cutoff() int64 {
	return sqlite.ToUnix(l.now().Add(-l.staleAfter))
}

// Get reads the record.
func (l *Liveness) Get(ctx context.Context) (Record, error) {
	var (
		r        Record
		status   string
		taskID   sql.NullString
		owner    sql.NullString
		activity int64
	)
	err := l.db.QueryRowContext(ctx,
		`SELECT status, task_id, owner, last_activity, processed, errors FROM agent_status WHERE id = 1`,
	).Scan(&status, &taskID, &owner, &activity, &r.Processed, &r.Errors)
	if err != nil {
		return Record{}, fmt.Errorf("read liveness: %w", err)
	}
	r.Status = AgentStatus(status)
	r.TaskID = taskID.String
	r.Owner = owner.String
	r.LastActivity = sqlite.FromUnix(activity)
	return r, nil
}

// Stale reports whether r counts as abandoned now.
func (l *Liveness) Stale(r Record) bool {
	return r.StaleAt(l.now(), l.staleAfter)
}

// Claim takes the record for taskID if it is idle or stale.
func (l *Liveness) Claim(ctx context.Context, taskID string) error {
	res, err := l.db.ExecContext(ctx, `
		UPDATE agent_status
		SET status = 'PROCESSING', task_id = ?, owner = ?, last_activity = ?
		WHERE id = 1 AND (status = 'IDLE' OR last_activity < ?)`,
		taskID, l.owner, sqlite.ToUnix(l.now()), l.cutoff(),
	)
	if err != nil {
		return fmt.Errorf("claim: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrBusy
	}
	return nil
}

// Release frees an owned claim and counts the task as processed.
func (l *Liveness) Release(ctx context.Context) error {
	res, err := l.db.ExecContext(ctx, `
		UPDATE agent_status
		SET status = 'IDLE', task_id = NULL, owner = NULL, last_activity = ?, processed = processed + 1
		WHERE id = 1 AND status = 'PROCESSING' AND owner = ?`,
		sqlite.ToUnix(l.now()), l.owner,
	)
	if err != nil {
		return fmt.Errorf("release: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotOwner
	}
	return nil
}

// Reset flips an owned claim to IDLE without counting it. Used on shutdown.
func (l *Liveness) Reset(ctx context.Context) (bool, error) {
	res, err := l.db.ExecContext(ctx, `
		UPDATE agent_status
		SET status = 'IDLE', task_id = NULL, owner = NULL, last_activity = ?
		WHERE id = 1 AND status = 'PROCESSING' AND owner = ?`,
		sqlite.ToUnix(l.now()), l.owner,
	)
	if err != nil {
		return false, fmt.Errorf("reset: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Touch refreshes last_activity of an owned claim.
func (l *Liveness) Touch(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE agent_status SET last_activity = ? WHERE id = 1 AND status = 'PROCESSING' AND owner = ?`,
		sqlite.ToUnix(l.now()), l.owner,
	)
	if err != nil {
		return fmt.Errorf("touch: %w", err)
	}
	return nil
}

// IncrementErrors bumps the error counter.
func (l *Liveness) IncrementErrors(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, `UPDATE agent_status SET errors = errors + 1 WHERE id = 1`); err != nil {
		return fmt.Errorf("count error: %w", err)
	}
	return nil
}

// ResetStale force-resets a stale PROCESSING record to IDLE and returns the
// task it was holding. ok is false when the record was not stale.
func (l *Liveness) ResetStale(ctx context.Context) (taskID string, ok bool, err error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("begin stale reset: %w", err)
	}
	defer tx.Rollback()

	var held sql.NullString
	cutoff := l.cutoff()
	err = tx.QueryRowContext(ctx,
		`SELECT task_id FROM agent_status WHERE id = 1 AND status = 'PROCESSING' AND last_activity < ?`, cutoff,
	).Scan(&held)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read stale record: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE agent_status SET status = 'IDLE', task_id = NULL, owner = NULL
		WHERE id = 1 AND status = 'PROCESSING' AND last_activity < ?`, cutoff,
	); err != nil {
		return "", false, fmt.Errorf("reset stale record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("commit stale reset: %w", err)
	}
	return held.String, true, nil
}
