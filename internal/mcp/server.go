package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dohr-michael/steward/internal/approval"
	"github.com/dohr-michael/steward/internal/capabilities"
)

// Version is reported to MCP clients.
const Version = "0.1.0"

// NewMCPServer creates an MCP server exposing capabilities from the registry.
// If filter is non-empty, only capabilities whose name matches one of its
// comma-separated globs are exposed.
//
// Calls go through the same permission gate as the agent. There is no task
// to park an escalation on, so a call needing a human is reported as a tool
// error naming the rule that would allow it.
func NewMCPServer(registry *capabilities.Registry, filter string) *mcpsdk.Server {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "steward",
		Version: Version,
	}, nil)

	for _, name := range registry.Names() {
		if !matchesFilter(name, filter) {
			continue
		}
		spec, ok := registry.Spec(name)
		if !ok {
			continue
		}

		invokable := registry.Tool(name)
		toolName := name

		server.AddTool(specToMCPTool(spec, registry.RequireJustification()), func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			args := "{}"
			if len(req.Params.Arguments) > 0 {
				args = string(req.Params.Arguments)
			}
			result, err := invokable.InvokableRun(ctx, args)
			if err != nil {
				slog.Debug("mcp tool error", "tool", toolName, "error", err)
				return errorResult(describeError(toolName, err)), nil
			}
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: result}},
			}, nil
		})

		slog.Debug("mcp tool registered", "tool", name)
	}

	return server
}

func errorResult(text string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
	}
}

func describeError(name string, err error) string {
	ie, ok := approval.AsInterrupt(err)
	if !ok {
		return err.Error()
	}
	if ie.Request.Kind == approval.KindQuestion {
		return fmt.Sprintf("%s needs a human answer and is only available inside a task", name)
	}
	return fmt.Sprintf("%s requires approval: %s Add an allow rule (steward permissions add allow %q) to run it unattended.",
		name, ie.Request.Question, name)
}

// matchesFilter checks a capability name against comma-separated globs.
func matchesFilter(name, filter string) bool {
	if strings.TrimSpace(filter) == "" {
		return true
	}
	for _, pattern := range strings.Split(filter, ",") {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if ok, err := doublestar.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}
