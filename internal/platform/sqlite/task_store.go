package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/phrazzld/llm-orchestrator/internal/domain"
	"github.com/phrazzld/llm-orchestrator/internal/platform/logger"
	"github.com/phrazzld/llm-orchestrator/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	prompt         TEXT NOT NULL,
	status         TEXT NOT NULL CHECK (status IN ('scheduled', 'queued', 'running', 'completed', 'failed', 'cancelled')),
	scheduled_for  TIMESTAMP NULL,
	created_at     TIMESTAMP NOT NULL,
	updated_at     TIMESTAMP NOT NULL,
	started_at     TIMESTAMP NULL,
	finished_at    TIMESTAMP NULL,
	output         TEXT NULL,
	error          TEXT NULL,
	attempts       INTEGER NOT NULL DEFAULT 0,
	max_attempts   INTEGER NOT NULL DEFAULT 3,
	parent_task_id TEXT NULL REFERENCES tasks (id) ON DELETE SET NULL,
	llm_provider   TEXT NULL,
	llm_model      TEXT NULL,
	latency_ms     INTEGER NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_status_scheduled_for ON tasks (status, scheduled_for);
CREATE INDEX IF NOT EXISTS idx_tasks_status_updated_at ON tasks (status, updated_at);
CREATE INDEX IF NOT EXISTS idx_tasks_parent_task_id ON tasks (parent_task_id);
`

const taskColumns = `id, name, prompt, status, scheduled_for, created_at, updated_at,
	started_at, finished_at, output, error, attempts, max_attempts,
	parent_task_id, llm_provider, llm_model, latency_ms`

// Open opens (creating if needed) the SQLite database at path and applies the schema.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return db, nil
}

// TaskStore implements store.Store on SQLite.
type TaskStore struct {
	db     store.DBTX
	inTx   bool
	logger *slog.Logger
}

// NewTaskStore wraps a database opened with Open.
// If logger is nil, a default logger will be used.
func NewTaskStore(db store.DBTX, logger *slog.Logger) *TaskStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	_, inTx := db.(*sql.Tx)
	return &TaskStore{
		db:     db,
		inTx:   inTx,
		logger: logger.With(slog.String("component", "sqlite_task_store")),
	}
}

var _ store.Store = (*TaskStore)(nil)

// InTx implements store.Transactor. Nested calls reuse the open transaction.
func (s *TaskStore) InTx(ctx context.Context, fn func(ctx context.Context, tasks store.TaskStore) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	beginner, ok := s.db.(store.TxBeginner)
	if !ok {
		return fmt.Errorf("%w: connection cannot begin transactions", store.ErrTransactionFailed)
	}
	return store.RunInTransaction(ctx, beginner, nil, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, &TaskStore{db: tx, inTx: true, logger: s.logger})
	})
}

// Create implements store.TaskStore.
func (s *TaskStore) Create(ctx context.Context, task *domain.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	query := `INSERT INTO tasks (` + taskColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		task.ID.String(),
		task.Name,
		task.Prompt,
		string(task.Status),
		utcPtr(task.ScheduledFor),
		task.CreatedAt.UTC(),
		task.UpdatedAt.UTC(),
		utcPtr(task.StartedAt),
		utcPtr(task.FinishedAt),
		task.Output,
		task.Error,
		task.Attempts,
		task.MaxAttempts,
		uuidPtr(task.ParentTaskID),
		task.LLMProvider,
		task.LLMModel,
		task.LatencyMS,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey {
			return store.ErrParentTaskNotFound
		}
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return fmt.Errorf("%w: task %s", store.ErrDuplicate, task.ID)
		}
		log.Error("failed to create task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return store.NewStoreError("task", "create", "failed to insert task", err)
	}
	return nil
}

// GetByID implements store.TaskStore.
func (s *TaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id.String())
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to get task",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return nil, store.NewStoreError("task", "get", "failed to load task", err)
	}
	return task, nil
}

// GetForUpdate implements store.TaskStore. The immediate transaction already
// holds the database write lock, so a plain read suffices.
func (s *TaskStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return s.GetByID(ctx, id)
}

// Update implements store.TaskStore.
func (s *TaskStore) Update(ctx context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			status = ?, scheduled_for = ?, updated_at = ?, started_at = ?, finished_at = ?,
			output = ?, error = ?, attempts = ?, max_attempts = ?,
			llm_provider = ?, llm_model = ?, latency_ms = ?
		WHERE id = ?`,
		string(task.Status),
		utcPtr(task.ScheduledFor),
		task.UpdatedAt.UTC(),
		utcPtr(task.StartedAt),
		utcPtr(task.FinishedAt),
		task.Output,
		task.Error,
		task.Attempts,
		task.MaxAttempts,
		task.LLMProvider,
		task.LLMModel,
		task.LatencyMS,
		task.ID.String(),
	)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to update task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return store.NewStoreError("task", "update", "failed to update task", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrTaskNotFound
	}
	return nil
}

// List implements store.TaskStore.
func (s *TaskStore) List(ctx context.Context, opts store.ListOptions) ([]*domain.Task, error) {
	opts = opts.Normalize()

	var (
		where []string
		args  []any
	)
	if opts.ParentTaskID != nil {
		where = append(where, "parent_task_id = ?")
		args = append(args, opts.ParentTaskID.String())
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	return s.query(ctx, query, args...)
}

// SelectDueScheduled implements store.TaskStore.
func (s *TaskStore) SelectDueScheduled(ctx context.Context, now time.Time, limit int) ([]*domain.Task, error) {
	return s.query(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE status = ? AND scheduled_for IS NOT NULL AND scheduled_for <= ?
		ORDER BY scheduled_for ASC
		LIMIT ?`,
		string(domain.TaskStatusScheduled), now.UTC(), limit)
}

// SelectStaleQueued implements store.TaskStore.
func (s *TaskStore) SelectStaleQueued(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Task, error) {
	return s.selectIdle(ctx, domain.TaskStatusQueued, cutoff, limit)
}

// SelectStuckRunning implements store.TaskStore.
func (s *TaskStore) SelectStuckRunning(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Task, error) {
	return s.selectIdle(ctx, domain.TaskStatusRunning, cutoff, limit)
}

func (s *TaskStore) selectIdle(ctx context.Context, status domain.TaskStatus, cutoff time.Time, limit int) ([]*domain.Task, error) {
	return s.query(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE status = ? AND updated_at < ?
		ORDER BY updated_at ASC
		LIMIT ?`,
		string(status), cutoff.UTC(), limit)
}

func (s *TaskStore) query(ctx context.Context, query string, args ...any) ([]*domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.NewStoreError("task", "query", "failed to query tasks", err)
	}
	defer func() { _ = rows.Close() }()

	tasks := make([]*domain.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, store.NewStoreError("task", "query", "failed to scan task", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("task", "query", "failed to iterate tasks", err)
	}
	return tasks, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task     domain.Task
		id       string
		status   string
		parentID sql.NullString
	)
	err := row.Scan(
		&id,
		&task.Name,
		&task.Prompt,
		&status,
		&task.ScheduledFor,
		&task.CreatedAt,
		&task.UpdatedAt,
		&task.StartedAt,
		&task.FinishedAt,
		&task.Output,
		&task.Error,
		&task.Attempts,
		&task.MaxAttempts,
		&parentID,
		&task.LLMProvider,
		&task.LLMModel,
		&task.LatencyMS,
	)
	if err != nil {
		return nil, err
	}

	if task.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid task id %q: %w", id, err)
	}
	if parentID.Valid {
		parent, err := uuid.Parse(parentID.String)
		if err != nil {
			return nil, fmt.Errorf("invalid parent task id %q: %w", parentID.String, err)
		}
		task.ParentTaskID = &parent
	}
	task.Status = domain.TaskStatus(status)
	return &task, nil
}

func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func uuidPtr(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}
