package commands

import (
	"context"
	"fmt"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/steward/internal/capabilities"
	stewardmcp "github.com/dohr-michael/steward/internal/mcp"
	"github.com/dohr-michael/steward/internal/memory"
	"github.com/dohr-michael/steward/internal/permissions"
	"github.com/dohr-michael/steward/internal/tasks"
)

// NewMCPServeCommand returns the mcp-serve subcommand.
func NewMCPServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp-serve",
		Usage: "Expose Steward capabilities as an MCP server (stdio)",
		Arguments: []cli.Argument{
			&cli.StringArg{
				Name:      "filter",
				UsageText: "Comma-separated capability globs to expose (empty = all)",
			},
		},
		Action: runMCPServe,
	}
}

func runMCPServe(ctx context.Context, cmd *cli.Command) error {
	// stdout carries the MCP transport
	level := "warn"
	if cmd.Bool("debug") {
		level = "debug"
	}
	setupLogging(false, level)

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	db, err := openDB(ctx, cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	policy, err := permissions.NewEngine(ctx, permissions.NewFileStore(cfg.Permissions.Path), nil)
	if err != nil {
		return fmt.Errorf("load permissions: %w", err)
	}

	// Tasks created here are picked up by a running worker's next poll.
	registry := capabilities.NewRegistry(policy, nil)
	if err := capabilities.RegisterBuiltins(registry, capabilities.Deps{
		Tasks:  tasks.NewService(tasks.NewSQLStore(db), nil, nil),
		Memory: memory.NewSQLStore(db),
	}); err != nil {
		return err
	}

	filter := cmd.StringArg("filter")
	slog.Debug("starting MCP server", "filter", filter, "capabilities", len(registry.Names()))

	server := stewardmcp.NewMCPServer(registry, filter)
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}
