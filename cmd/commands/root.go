package commands

import (
	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/steward/internal/config"
)

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "steward",
		Usage: "Autonomous task agent with human-in-the-loop approvals",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   config.ConfigPath(),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
			&cli.StringFlag{
				Name:    "gateway",
				Usage:   "Gateway base URL (default from config)",
				Sources: cli.EnvVars("STEWARD_GATEWAY_URL"),
			},
		},
		Commands: []*cli.Command{
			NewServeCommand(),
			NewStatusCommand(),
			NewTasksCommand(),
			NewPermissionsCommand(),
			NewMemoryCommand(),
			NewScheduleCommand(),
			NewMCPServeCommand(),
		},
	}
}
