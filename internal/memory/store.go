package memory

import "context"

// Store defines the interface for memory persistence.
type Store interface {
	Add(ctx context.Context, content, source, partition string) (*Entity, error)
	Get(ctx context.Context, id string) (*Entity, error)
	Search(ctx context.Context, query string, limit int, partition string) ([]Result, error)
	Relate(ctx context.Context, partition, from, to, kind string) error
	Related(ctx context.Context, id string) ([]Relation, error)
}
