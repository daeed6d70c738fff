// Package mcp provides an MCP server that exposes Steward capabilities.
package mcp

import (
	"sort"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dohr-michael/steward/internal/approval"
	"github.com/dohr-michael/steward/internal/capabilities"
)

// specToMCPTool converts a capability spec to an mcp.Tool with JSON Schema.
func specToMCPTool(spec capabilities.Spec, withJustification bool) *mcpsdk.Tool {
	props := make(map[string]any, len(spec.Parameters)+1)
	var required []string

	for name, p := range spec.Parameters {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[name] = prop

		if p.Required {
			required = append(required, name)
		}
	}
	if spec.Sensitive && withJustification {
		props[approval.JustificationArg] = map[string]any{
			"type":        "string",
			"description": "Why this action is needed.",
		}
		required = append(required, approval.JustificationArg)
	}

	sort.Strings(required)

	inputSchema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		inputSchema["required"] = required
	}

	return &mcpsdk.Tool{
		Name:        spec.Name,
		Description: spec.Description,
		InputSchema: inputSchema,
	}
}
