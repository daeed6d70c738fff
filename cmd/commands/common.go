package commands

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/steward/clients/api"
	"github.com/dohr-michael/steward/internal/config"
	"github.com/dohr-michael/steward/internal/storage/sqlite"
	"github.com/dohr-michael/steward/internal/tasks"
)

const timeFormat = "2006-01-02 15:04:05"

// loadConfig reads the file named by --config. A missing file yields defaults.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	path := cmd.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// setupLogging installs a text handler on stderr whose level can be changed
// later through the returned variable.
func setupLogging(debug bool, level string) *slog.LevelVar {
	lv := new(slog.LevelVar)
	lv.Set(parseLevel(level))
	if debug {
		lv.Set(slog.LevelDebug)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})))
	return lv
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// gatewayURL resolves --gateway, falling back to the configured listen address.
func gatewayURL(cmd *cli.Command, cfg *config.Config) string {
	if u := cmd.String("gateway"); u != "" {
		return u
	}
	host := cfg.Gateway.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Gateway.Port))
}

func newAPIClient(cmd *cli.Command) (*api.Client, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return api.New(gatewayURL(cmd, cfg)), nil
}

// openDB opens the configured database for commands that work offline.
func openDB(ctx context.Context, cmd *cli.Command) (*sql.DB, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	db, err := sqlite.Open(ctx, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// requireArg returns the first positional argument or a usage error.
func requireArg(cmd *cli.Command, usage string) (string, error) {
	v := strings.TrimSpace(cmd.Args().First())
	if v == "" {
		return "", fmt.Errorf("usage: steward %s", usage)
	}
	return v, nil
}

// Single-attribute colors keep escape sequences the same width, so tabwriter
// columns stay aligned.
var statusColors = map[tasks.Status]*color.Color{
	tasks.StatusNew:               color.New(color.FgCyan),
	tasks.StatusInProgress:        color.New(color.FgYellow),
	tasks.StatusNeedsReview:       color.New(color.FgMagenta),
	tasks.StatusWaiting:           color.New(color.FgBlue),
	tasks.StatusUserInputReceived: color.New(color.FgCyan),
	tasks.StatusDone:              color.New(color.FgGreen),
	tasks.StatusFailed:            color.New(color.FgRed),
}

func colorStatus(s tasks.Status) string {
	if c, ok := statusColors[s]; ok {
		return c.Sprint(s)
	}
	return string(s)
}
