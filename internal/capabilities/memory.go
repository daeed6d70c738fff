package capabilities

import (
	"context"
	"fmt"

	"github.com/dohr-michael/steward/internal/events"
	"github.com/dohr-michael/steward/internal/memory"
)

var searchMemorySpec = Spec{
	Name:        "search_memory",
	Description: "Search long-term memory for facts relevant to a query.",
	Sensitive:   true,
	Parameters: map[string]ParamSpec{
		"query":     {Type: "string", Description: "Keywords to search for", Required: true},
		"limit":     {Type: "integer", Description: "Maximum results (default 5)"},
		"partition": {Type: "string", Description: "Memory partition (default \"default\")"},
	},
}

var addMemorySpec = Spec{
	Name:        "add_memory",
	Description: "Remember a fact for future tasks: a user preference, a decision, a piece of context.",
	Sensitive:   true,
	Parameters: map[string]ParamSpec{
		"content":   {Type: "string", Description: "The fact to remember", Required: true},
		"partition": {Type: "string", Description: "Memory partition (default \"default\")"},
	},
}

type memoryCapabilities struct {
	store memory.Store
}

func (c *memoryCapabilities) search(ctx context.Context, args string) (string, error) {
	in, err := decode[struct {
		Query     string `json:"query"`
		Limit     int    `json:"limit"`
		Partition string `json:"partition"`
	}](searchMemorySpec.Name, args)
	if err != nil {
		return "", err
	}
	results, err := c.store.Search(ctx, in.Query, in.Limit, in.Partition)
	if err != nil {
		return "", fmt.Errorf("search_memory: %w", err)
	}
	if len(results) == 0 {
		return "No matching memories.", nil
	}
	return encode(results)
}

func (c *memoryCapabilities) add(ctx context.Context, args string) (string, error) {
	in, err := decode[struct {
		Content   string `json:"content"`
		Partition string `json:"partition"`
	}](addMemorySpec.Name, args)
	if err != nil {
		return "", err
	}
	source := ""
	if id := events.TaskIDFromContext(ctx); id != "" {
		source = "task " + id
	}
	e, err := c.store.Add(ctx, in.Content, source, in.Partition)
	if err != nil {
		return "", fmt.Errorf("add_memory: %w", err)
	}
	return encode(map[string]string{"id": e.ID, "partition": e.Partition})
}
