package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/phrazzld/llm-orchestrator/internal/config"
	"github.com/phrazzld/llm-orchestrator/internal/platform/memory"
	"github.com/phrazzld/llm-orchestrator/internal/platform/postgres"
	"github.com/phrazzld/llm-orchestrator/internal/platform/sqlite"
	"github.com/phrazzld/llm-orchestrator/internal/store"
)

// openStore builds the task store named by database.driver. The returned
// close function releases the underlying connection pool.
func openStore(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (store.Store, func() error, error) {
	noClose := func() error { return nil }

	switch cfg.Driver {
	case "postgres":
		db, err := openPostgres(ctx, cfg, log)
		if err != nil {
			return nil, nil, err
		}
		if cfg.AutoMigrate {
			if err := migrate(ctx, db, "up", log); err != nil {
				_ = db.Close()
				return nil, nil, err
			}
		}
		return postgres.NewPostgresTaskStore(db, log), db.Close, nil

	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		log.Info("sqlite database opened", slog.String("path", cfg.Path))
		return sqlite.NewTaskStore(db, log), db.Close, nil

	case "memory":
		log.Warn("using in-memory task store; tasks are lost on restart")
		return memory.NewTaskStore(log), noClose, nil

	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func openPostgres(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("database connection established",
		slog.Int("max_open_conns", cfg.MaxOpenConns),
		slog.Int("max_idle_conns", cfg.MaxIdleConns))
	return db, nil
}
