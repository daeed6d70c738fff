package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dohr-michael/steward/internal/storage/sqlite"
)

// scanWindow bounds how many of the newest entities a search considers.
const scanWindow = 1000

// SQLStore implements Store on the steward database.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore creates a store over an opened, migrated database.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

// Add stores a new entity. An empty partition means DefaultPartition.
func (s *SQLStore) Add(ctx context.Context, content, source, partition string) (*Entity, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	e := &Entity{
		ID:        generateID(),
		Partition: normalizePartition(partition),
		Content:   content,
		Source:    strings.TrimSpace(source),
		CreatedAt: s.now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_entities (id, partition, content, source, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Partition, e.Content, e.Source, sqlite.ToUnix(e.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert memory: %w", err)
	}
	return e, nil
}

// Get loads one entity by id.
func (s *SQLStore) Get(ctx context.Context, id string) (*Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, partition, content, source, created_at FROM memory_entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("memory %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return &e, nil
}

// Search returns up to limit entities of partition ranked against query.
func (s *SQLStore) Search(ctx context.Context, query string, limit int, partition string) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, partition, content, source, created_at FROM memory_entities
		 WHERE partition = ? ORDER BY created_at DESC LIMIT ?`,
		normalizePartition(partition), scanWindow)
	if err != nil {
		return nil, fmt.Errorf("search memory: %w", err)
	}
	defer rows.Close()

	var candidates []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		candidates = append(candidates, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search memory: %w", err)
	}
	return rank(candidates, query, limit, s.now()), nil
}

// Relate links two entities. Both must exist in partition.
func (s *SQLStore) Relate(ctx context.Context, partition, from, to, kind string) error {
	partition = normalizePartition(partition)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_relations (partition, from_id, to_id, kind, created_at)
		 SELECT ?, a.id, b.id, ?, ? FROM memory_entities a, memory_entities b
		 WHERE a.id = ? AND b.id = ? AND a.partition = ? AND b.partition = ?`,
		partition, kind, sqlite.ToUnix(s.now()), from, to, partition, partition)
	if err != nil {
		return fmt.Errorf("relate memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("relate %s -> %s: %w", from, to, ErrNotFound)
	}
	return nil
}

// Related lists relations leaving or entering id.
func (s *SQLStore) Related(ctx context.Context, id string) ([]Relation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT partition, from_id, to_id, kind, created_at FROM memory_relations
		 WHERE from_id = ? OR to_id = ? ORDER BY id`, id, id)
	if err != nil {
		return nil, fmt.Errorf("list relations: %w", err)
	}
	defer rows.Close()

	var out []Relation
	for rows.Next() {
		var r Relation
		var at int64
		if err := rows.Scan(&r.Partition, &r.From, &r.To, &r.Kind, &at); err != nil {
			return nil, fmt.Errorf("scan relation: %w", err)
		}
		r.CreatedAt = sqlite.FromUnix(at)
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (Entity, error) {
	var e Entity
	var at int64
	if err := row.Scan(&e.ID, &e.Partition, &e.Content, &e.Source, &at); err != nil {
		return Entity{}, err
	}
	e.CreatedAt = sqlite.FromUnix(at)
	return e, nil
}
