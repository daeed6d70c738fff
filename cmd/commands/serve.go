package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	einocallbacks "github.com/cloudwego/eino/callbacks"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/dohr-michael/steward/internal/callbacks"
	"github.com/dohr-michael/steward/internal/capabilities"
	"github.com/dohr-michael/steward/internal/config"
	"github.com/dohr-michael/steward/internal/events"
	"github.com/dohr-michael/steward/internal/gateway"
	"github.com/dohr-michael/steward/internal/graph"
	"github.com/dohr-michael/steward/internal/memory"
	"github.com/dohr-michael/steward/internal/models"
	"github.com/dohr-michael/steward/internal/permissions"
	"github.com/dohr-michael/steward/internal/scheduler"
	"github.com/dohr-michael/steward/internal/storage"
	"github.com/dohr-michael/steward/internal/storage/sqlite"
	"github.com/dohr-michael/steward/internal/tasks"
)

// NewServeCommand returns the serve subcommand.
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the worker, recurring producers and the gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	level := setupLogging(cmd.Bool("debug"), cfg.Events.LogLevel)

	// CLI flags override config
	if cmd.IsSet("host") {
		cfg.Gateway.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Gateway.Port = cmd.Int("port")
	}

	db, err := sqlite.Open(ctx, cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	eventLog := storage.NewEventLogger(config.LogsPath(), bus)
	defer eventLog.Close()

	policy, err := permissions.NewEngine(ctx, permissions.NewFileStore(cfg.Permissions.Path), bus)
	if err != nil {
		return err
	}

	modelRegistry := models.NewRegistry(cfg.Models)
	chatModel, err := modelRegistry.Default(ctx)
	if err != nil {
		return fmt.Errorf("init default model: %w", err)
	}

	taskStore := tasks.NewSQLStore(db)
	svc := tasks.NewService(taskStore, nil, bus)

	registry := capabilities.NewRegistry(policy, bus)
	if err := capabilities.RegisterBuiltins(registry, capabilities.Deps{
		Tasks:  svc,
		Memory: memory.NewSQLStore(db),
	}); err != nil {
		return fmt.Errorf("register capabilities: %w", err)
	}
	slog.Info("capabilities loaded", "count", len(registry.Names()))

	engine, err := graph.NewEngine(ctx, chatModel, registry.Tools(), graph.NewThreadStore(db), graph.Config{
		Instruction:   cfg.Agent.Instruction,
		MaxIterations: cfg.Agent.MaxIterations,
		ModelName:     modelRegistry.DefaultName(),
		Handlers:      []einocallbacks.Handler{callbacks.NewEventBusHandler(bus)},
	})
	if err != nil {
		return fmt.Errorf("init action graph: %w", err)
	}
	svc.SetThreads(engine)

	owner := cfg.Worker.Owner
	if owner == "" {
		owner = scheduler.DefaultOwner()
	}
	live := scheduler.NewLiveness(db, owner, cfg.Worker.StaleAfter.Duration())
	worker := scheduler.NewWorker(taskStore, live, engine, bus, scheduler.Config{
		PollInterval: cfg.Worker.PollInterval.Duration(),
		Owner:        owner,
	})
	svc.SetWaker(worker.Wake)

	if _, err := worker.Recover(ctx); err != nil {
		return fmt.Errorf("recover tasks: %w", err)
	}

	producers, err := scheduler.NewProducers(svc, recurring(cfg.Schedules))
	if err != nil {
		return fmt.Errorf("schedules: %w", err)
	}

	server := gateway.NewServer(gateway.Deps{
		Bus:         bus,
		Tasks:       svc,
		Agent:       worker,
		Permissions: policy,
		EventLog:    eventLog,
	}, cfg.Gateway.Host, cfg.Gateway.Port, gateway.WithAllowedOrigins(cfg.Gateway.AllowedOrigins...))

	// Hot reload: the permission file applies immediately; of the config
	// file only the log level does, the rest needs a restart.
	reloader := config.NewReloader(configPath, config.DotenvPath(), cfg)
	reloader.OnReload(func(c *config.Config, changed []string) {
		var restart []string
		for _, section := range changed {
			if section == "events" {
				level.Set(parseLevel(c.Events.LogLevel))
				continue
			}
			restart = append(restart, section)
		}
		if len(restart) > 0 {
			slog.Warn("config change needs a restart to apply", "sections", restart)
		}
	})
	reload := func() {
		if _, err := reloader.Reload(); err != nil {
			slog.Warn("config reload failed", "error", err)
		}
	}
	watcher := config.NewWatcher()
	watcher.Handle(configPath, reload)
	watcher.Handle(config.DotenvPath(), reload)
	watcher.Handle(cfg.Permissions.Path, func() {
		if err := policy.Reload(ctx); err != nil {
			slog.Warn("permissions reload failed", "error", err)
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return producers.Run(gctx) })
	g.Go(func() error {
		if err := watcher.Run(gctx); err != nil {
			slog.Warn("file watcher disabled", "error", err)
		}
		return nil
	})
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func recurring(schedules []config.ScheduleConfig) []scheduler.Recurring {
	out := make([]scheduler.Recurring, len(schedules))
	for i, s := range schedules {
		out[i] = scheduler.Recurring{
			Cron:        s.Cron,
			Title:       s.Title,
			Description: s.Description,
			Tags:        s.Tags,
		}
	}
	return out
}
