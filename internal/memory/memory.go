// Package memory is the agent's long-term knowledge store: short text
// entities grouped by partition, optionally linked by typed relations.
package memory

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultPartition is used when a caller does not name one.
const DefaultPartition = "default"

var (
	ErrNotFound     = errors.New("memory not found")
	ErrEmptyContent = errors.New("memory content is empty")
)

// Entity is a single remembered fact.
type Entity struct {
	ID        string    `json:"id"`
	Partition string    `json:"partition"`
	Content   string    `json:"content"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Relation links two entities of the same partition.
type Relation struct {
	Partition string    `json:"partition"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// Result is an entity returned by a search with its relevance score.
type Result struct {
	Entity
	Score float64 `json:"score"`
}

func generateID() string {
	u := uuid.New().String()
	return "mem_" + strings.ReplaceAll(u[:8], "-", "")
}

func normalizePartition(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return DefaultPartition
	}
	return p
}
