package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/strandhq/strand/internal/activity"
	"github.com/strandhq/strand/internal/engine"
	"github.com/strandhq/strand/internal/logging"
	"github.com/strandhq/strand/internal/scheduler"
	"github.com/strandhq/strand/internal/store"
	"github.com/strandhq/strand/internal/streaming"
	"github.com/strandhq/strand/internal/validation"
	"github.com/strandhq/strand/pkg/mcp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "strand: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()

	// Logs go to stderr; stdout carries the MCP stdio transport.
	logger := slog.New(logging.NewCorrelationHandler(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}),
	))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(strandDir(), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	registry := activity.NewRegistry()
	var runner activity.AgentRunner
	if cfg.AgentURL != "" {
		runner = activity.NewHTTPAgentRunner(cfg.AgentURL)
	}
	if err := activity.RegisterBuiltins(registry, activity.HTTPConfig{}, runner, logger); err != nil {
		return fmt.Errorf("register activities: %w", err)
	}

	hub := streaming.NewMemoryHub()
	invoker := activity.NewInvoker(registry, logger)
	coordinator := engine.NewCoordinator(st, invoker, hub, engine.CoordinatorConfig{PoolSize: cfg.PoolSize}, logger)

	validator, err := validation.NewWorkflowValidator(registry)
	if err != nil {
		return fmt.Errorf("build validator: %w", err)
	}

	var sched *scheduler.Scheduler
	if cfg.Scheduler {
		sched = scheduler.NewScheduler(st, &scheduledRunner{coordinator: coordinator, store: st, logger: logger}, logger)
		if err := sched.RecoverMissed(ctx); err != nil {
			logger.Warn("missed run recovery failed", "error", err)
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer func() { _ = sched.Stop() }()
	}

	deps := mcp.StrandServerDeps{
		Coordinator: coordinator,
		Store:       st,
		Validator:   validator,
		Hub:         hub,
		Logger:      logger,
	}
	if sched != nil {
		deps.Scheduler = sched
	}
	srv := mcp.NewStrandServer(deps)

	logger.Info("strand engine listening on stdio", "db", cfg.DBPath, "pool_size", cfg.PoolSize)
	return srv.Serve(ctx)
}
