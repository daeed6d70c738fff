package commands

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/steward/internal/permissions"
)

// NewPermissionsCommand returns the permissions subcommand. It edits the rule
// file directly; a running gateway picks the change up through its watcher.
func NewPermissionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "permissions",
		Usage: "Manage allow and deny rules for sensitive capabilities",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "Show the policy",
				Action: runPermissionsList,
			},
			{
				Name:      "add",
				Usage:     "Add a rule",
				ArgsUsage: "<allow|deny> <pattern>",
				Action:    runPermissionsAdd,
			},
			{
				Name:      "remove",
				Usage:     "Remove a rule",
				ArgsUsage: "<allow|deny> <pattern>",
				Action:    runPermissionsRemove,
			},
		},
		DefaultCommand: "list",
	}
}

func newPolicy(ctx context.Context, cmd *cli.Command) (*permissions.Engine, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return permissions.NewEngine(ctx, permissions.NewFileStore(cfg.Permissions.Path), nil)
}

func runPermissionsList(ctx context.Context, cmd *cli.Command) error {
	policy, err := newPolicy(ctx, cmd)
	if err != nil {
		return err
	}
	doc := policy.Rules()

	fmt.Printf("default_secure:        %v\n", doc.Settings.DefaultSecure)
	fmt.Printf("require_justification: %v\n", doc.Settings.RequireJustification)

	fmt.Println(color.RedString("\nDeny:"))
	printRules(doc.Deny)
	fmt.Println(color.GreenString("\nAllow:"))
	printRules(doc.Allow)
	return nil
}

func printRules(rules []string) {
	if len(rules) == 0 {
		fmt.Println("  (none)")
		return
	}
	for _, r := range rules {
		fmt.Printf("  %s\n", r)
	}
}

// ruleArgs reads "<list> <pattern>". The pattern may span several arguments
// when the shell splits it.
func ruleArgs(cmd *cli.Command, verb string) (permissions.List, string, error) {
	args := cmd.Args().Slice()
	if len(args) < 2 {
		return "", "", fmt.Errorf("usage: steward permissions %s <allow|deny> <pattern>", verb)
	}
	list, err := permissions.ParseList(args[0])
	if err != nil {
		return "", "", err
	}
	pattern := args[1]
	for _, a := range args[2:] {
		pattern += " " + a
	}
	return list, pattern, nil
}

func runPermissionsAdd(ctx context.Context, cmd *cli.Command) error {
	list, pattern, err := ruleArgs(cmd, "add")
	if err != nil {
		return err
	}
	policy, err := newPolicy(ctx, cmd)
	if err != nil {
		return err
	}
	rule, err := policy.AddRule(ctx, list, pattern)
	if err != nil {
		return fmt.Errorf("add rule: %w", err)
	}
	fmt.Printf("Added %s rule %s\n", list, rule)
	return nil
}

func runPermissionsRemove(ctx context.Context, cmd *cli.Command) error {
	list, pattern, err := ruleArgs(cmd, "remove")
	if err != nil {
		return err
	}
	policy, err := newPolicy(ctx, cmd)
	if err != nil {
		return err
	}
	if err := policy.RemoveRule(ctx, list, pattern); err != nil {
		return fmt.Errorf("remove rule: %w", err)
	}
	fmt.Printf("Removed %s rule %s\n", list, pattern)
	return nil
}
