// Command server runs the task orchestrator. A single binary serves every
// role; -role picks which of the HTTP API, the worker pool and the scheduler
// run in this process.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/phrazzld/llm-orchestrator/internal/config"
	"github.com/phrazzld/llm-orchestrator/internal/platform/logger"
	"github.com/phrazzld/llm-orchestrator/internal/redact"
)

func main() {
	role := flag.String("role", roleAll, "process role: all, api, worker or scheduler")
	migrateCmd := flag.String("migrate", "", "run a migration command (up, down, status, version) and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *role, *migrateCmd); err != nil {
		slog.Error("server exited with error", slog.String("error", redact.Error(err)))
		os.Exit(1)
	}
}

func run(ctx context.Context, roleName, migrateCmd string) error {
	roles, err := parseRoles(roleName)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}
	logConfig(log, cfg)

	if migrateCmd != "" {
		return runMigrationCommand(ctx, cfg, log, migrateCmd)
	}

	app, err := newApplication(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.close()

	return app.run(ctx, roles)
}

// logConfig records the effective configuration without secrets.
func logConfig(log *slog.Logger, cfg *config.Config) {
	log.Info("configuration loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Server.LogLevel),
		slog.String("database_driver", cfg.Database.Driver),
		slog.String("database_url", redact.String(cfg.Database.URL)),
		slog.String("queue_driver", cfg.Queue.Driver),
		slog.String("queue_url", redact.String(cfg.Queue.RedisURL)),
		slog.String("llm_provider", cfg.LLM.Provider),
		slog.Int("worker_count", cfg.Task.WorkerCount))
}
