package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/dohr-michael/steward/internal/approval"
	"github.com/dohr-michael/steward/internal/storage/sqlite"
)

// Pending is the continuation of a suspended thread: the interrupt and the
// tool calls still to run, starting with the one that interrupted.
type Pending struct {
	Request approval.Request  `json:"request"`
	Calls   []schema.ToolCall `json:"calls"`
	At      time.Time         `json:"at"`
}

// Thread is the persisted conversation state of one graph thread.
type Thread struct {
	ID        string
	Messages  []*schema.Message
	Pending   *Pending
	Response  *approval.Response
	UpdatedAt time.Time
}

// ThreadStore persists threads in the relational store.
type ThreadStore struct {
	db *sql.DB
}

// NewThreadStore creates a thread store on an opened database.
func NewThreadStore(db *sql.DB) *ThreadStore {
	return &ThreadStore{db: db}
}

// Load returns the thread, or an empty one if it was never saved.
func (s *ThreadStore) Load(ctx context.Context, id string) (*Thread, error) {
	var (
		messages string
		pending  sql.NullString
		response sql.NullString
		updated  int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT messages, pending, response, updated_at FROM graph_threads WHERE id = ?`, id,
	).Scan(&messages, &pending, &response, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return &Thread{ID: id}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load thread %s: %w", id, err)
	}

	th := &Thread{ID: id, UpdatedAt: sqlite.FromUnix(updated)}
	if err := json.Unmarshal([]byte(messages), &th.Messages); err != nil {
		return nil, fmt.Errorf("decode thread %s messages: %w", id, err)
	}
	if pending.Valid {
		th.Pending = &Pending{}
		if err := json.Unmarshal([]byte(pending.String), th.Pending); err != nil {
			return nil, fmt.Errorf("decode thread %s pending: %w", id, err)
		}
	}
	if response.Valid {
		th.Response = &approval.Response{}
		if err := json.Unmarshal([]byte(response.String), th.Response); err != nil {
			return nil, fmt.Errorf("decode thread %s response: %w", id, err)
		}
	}
	return th, nil
}

// Save upserts the thread.
func (s *ThreadStore) Save(ctx context.Context, th *Thread) error {
	if th.Messages == nil {
		th.Messages = []*schema.Message{}
	}
	messages, err := json.Marshal(th.Messages)
	if err != nil {
		return fmt.Errorf("encode thread messages: %w", err)
	}
	pending, err := nullJSON(th.Pending)
	if err != nil {
		return fmt.Errorf("encode thread pending: %w", err)
	}
	response, err := nullJSON(th.Response)
	if err != nil {
		return fmt.Errorf("encode thread response: %w", err)
	}
	th.UpdatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO graph_threads (id, messages, pending, response, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			messages = excluded.messages,
			pending = excluded.pending,
			response = excluded.response,
			updated_at = excluded.updated_at`,
		th.ID, string(messages), pending, response, sqlite.ToUnix(th.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save thread %s: %w", th.ID, err)
	}
	return nil
}

func nullJSON[T any](v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
