package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dohr-michael/steward/internal/storage/sqlite"
)

// SQLStore persists tasks and comments in the relational store.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore creates a task store on an opened database.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

const taskColumns = "id, title, description, status, tags, links, created_at, updated_at, completed_at, due_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		t           Task
		status      string
		tags, links string
		created     int64
		updated     int64
		completed   sql.NullInt64
		due         sql.NullInt64
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &status, &tags, &links, &created, &updated, &completed, &due); err != nil {
		return nil, err
	}
	t.Status = Status(status)
	if err := json.Unmarshal([]byte(tags), &t.Tags); err != nil {
		return nil, fmt.Errorf("decode tags of %s: %w", t.ID, err)
	}
	if err := json.Unmarshal([]byte(links), &t.Links); err != nil {
		return nil, fmt.Errorf("decode links of %s: %w", t.ID, err)
	}
	t.CreatedAt = sqlite.FromUnix(created)
	t.UpdatedAt = sqlite.FromUnix(updated)
	t.CompletedAt = sqlite.FromNullUnix(completed)
	t.DueAt = sqlite.FromNullUnix(due)
	return &t, nil
}

func encodeList[T any](v []T) (string, error) {
	if v == nil {
		v = []T{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Create inserts t in status NEW, assigning an id and timestamps.
func (s *SQLStore) Create(ctx context.Context, t *Task) error {
	if strings.TrimSpace(t.Title) == "" {
		return ErrEmptyTitle
	}
	if t.ID == "" {
		t.ID = NewID()
	} else if err := ValidateID(t.ID); err != nil {
		return err
	}
	now := s.now().UTC()
	t.Status = StatusNew
	t.CreatedAt = now
	t.UpdatedAt = now
	t.CompletedAt = nil

	tags, err := encodeList(t.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	links, err := encodeList(t.Links)
	if err != nil {
		return fmt.Errorf("encode links: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, ?)`,
		t.ID, t.Title, t.Description, string(t.Status), tags, links,
		sqlite.ToUnix(now), sqlite.ToUnix(now), sqlite.ToNullUnix(t.DueAt),
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// Get loads a task with its comment trail.
func (s *SQLStore) Get(ctx context.Context, id string) (*Task, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	t, err := s.get(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	t.Comments, err = s.Comments(ctx, id)
	if err != nil {
		return nil, err
	}
	return t, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) get(ctx context.Context, q querier, id string) (*Task, error) {
	t, err := scanTask(q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", id, err)
	}
	return t, nil
}

// List returns tasks matching filter, most recently updated first. Comments are not loaded.
func (s *SQLStore) List(ctx context.Context, filter ListFilter) ([]*Task, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.Statuses) > 0 {
		ph := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			ph[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(ph, ", ")+")")
	}
	if filter.Tag != "" {
		where = append(where, "EXISTS (SELECT 1 FROM json_each(tasks.tags) WHERE json_each.value = ?)")
		args = append(args, filter.Tag)
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var result []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// Update applies non-status changes.
func (s *SQLStore) Update(ctx context.Context, id string, u Update) (*Task, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if u.Title != nil && strings.TrimSpace(*u.Title) == "" {
		return nil, ErrEmptyTitle
	}

	var (
		sets []string
		args []any
	)
	if u.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *u.Title)
	}
	if u.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *u.Description)
	}
	if u.Tags != nil {
		tags, err := encodeList(u.Tags)
		if err != nil {
			return nil, fmt.Errorf("encode tags: %w", err)
		}
		sets = append(sets, "tags = ?")
		args = append(args, tags)
	}
	if u.Links != nil {
		links, err := encodeList(u.Links)
		if err != nil {
			return nil, fmt.Errorf("encode links: %w", err)
		}
		sets = append(sets, "links = ?")
		args = append(args, links)
	}
	if u.DueAt != nil {
		sets = append(sets, "due_at = ?")
		args = append(args, sqlite.ToUnix(*u.DueAt))
	}
	if len(sets) == 0 {
		return s.Get(ctx, id)
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, sqlite.ToUnix(s.now()), id)

	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("update task %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.Get(ctx, id)
}

// NextByStatus returns the oldest-updated task in status, ties broken by id.
func (s *SQLStore) NextByStatus(ctx context.Context, status Status) (*Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY updated_at ASC, id ASC LIMIT 1`,
		string(status),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next %s task: %w", status, err)
	}
	return t, nil
}

// Transition validates from -> to against the lifecycle table inside a single
// transaction.
func (s *SQLStore) Transition(ctx context.Context, id string, to Status) (*Task, error) {
	return s.setStatus(ctx, id, to, false)
}

// Restart forces a task into IN_PROGRESS for administrative reprocessing.
func (s *SQLStore) Restart(ctx context.Context, id string) (*Task, error) {
	return s.setStatus(ctx, id, StatusInProgress, true)
}

func (s *SQLStore) setStatus(ctx context.Context, id string, to Status, force bool) (*Task, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback()

	t, err := s.get(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if !force && !CanTransition(t.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}

	now := s.now().UTC()
	var completed *time.Time
	if to == StatusDone {
		completed = &now
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = ?, completed_at = ? WHERE id = ?`,
		string(to), sqlite.ToUnix(now), sqlite.ToNullUnix(completed), id,
	); err != nil {
		return nil, fmt.Errorf("update status of %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}

	t.Status = to
	t.UpdatedAt = now
	t.CompletedAt = completed
	return t, nil
}

// AddComment appends to a task's comment trail.
func (s *SQLStore) AddComment(ctx context.Context, taskID string, author Author, text string) (Comment, error) {
	if err := ValidateID(taskID); err != nil {
		return Comment{}, err
	}
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO task_comments (task_id, author, body, created_at)
		 SELECT id, ?, ?, ? FROM tasks WHERE id = ?`,
		string(author), text, sqlite.ToUnix(now), taskID,
	)
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Comment{}, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Comment{}, fmt.Errorf("comment id: %w", err)
	}
	return Comment{ID: id, TaskID: taskID, Author: author, Text: text, CreatedAt: now}, nil
}

// Comments returns a task's comment trail in insertion order.
func (s *SQLStore) Comments(ctx context.Context, taskID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, author, body, created_at FROM task_comments WHERE task_id = ? ORDER BY id`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var result []Comment
	for rows.Next() {
		var (
			c       Comment
			author  string
			created int64
		)
		if err := rows.Scan(&c.ID, &c.TaskID, &author, &c.Text, &created); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		c.Author = Author(author)
		c.CreatedAt = sqlite.FromUnix(created)
		result = append(result, c)
	}
	return result, rows.Err()
}
