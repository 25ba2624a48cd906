package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/llm-orchestrator/internal/domain"
	"github.com/phrazzld/llm-orchestrator/internal/platform/logger"
	"github.com/phrazzld/llm-orchestrator/internal/store"
)

const taskColumns = `id, name, prompt, status, scheduled_for, created_at, updated_at,
	started_at, finished_at, output, error, attempts, max_attempts,
	parent_task_id, llm_provider, llm_model, latency_ms`

// PostgresTaskStore implements the store.Store interface
// using a PostgreSQL database as the storage backend.
type PostgresTaskStore struct {
	db     store.DBTX
	inTx   bool
	logger *slog.Logger
}

// NewPostgresTaskStore creates a new PostgreSQL implementation of the task store.
// db is usually a *sql.DB; InTx requires it to be able to begin transactions.
// If logger is nil, a default logger will be used.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	_, inTx := db.(*sql.Tx)

	return &PostgresTaskStore{
		db:     db,
		inTx:   inTx,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

// Ensure PostgresTaskStore implements store.Store interface
var _ store.Store = (*PostgresTaskStore)(nil)

// WithTx returns a store bound to tx.
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) *PostgresTaskStore {
	return &PostgresTaskStore{
		db:     tx,
		inTx:   true,
		logger: s.logger,
	}
}

// InTx implements store.Transactor. Nested calls reuse the open transaction.
func (s *PostgresTaskStore) InTx(ctx context.Context, fn func(ctx context.Context, tasks store.TaskStore) error) error {
	if s.inTx {
		return fn(ctx, s)
	}

	beginner, ok := s.db.(store.TxBeginner)
	if !ok {
		return fmt.Errorf("%w: connection cannot begin transactions", store.ErrTransactionFailed)
	}

	return store.RunInTransaction(ctx, beginner, nil, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, s.WithTx(tx))
	})
}

// Create implements store.TaskStore.Create.
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		log.Warn("task validation failed during create",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	query := `INSERT INTO tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err := s.db.ExecContext(ctx, query,
		task.ID,
		task.Name,
		task.Prompt,
		string(task.Status),
		task.ScheduledFor,
		task.CreatedAt,
		task.UpdatedAt,
		task.StartedAt,
		task.FinishedAt,
		task.Output,
		task.Error,
		task.Attempts,
		task.MaxAttempts,
		task.ParentTaskID,
		task.LLMProvider,
		task.LLMModel,
		task.LatencyMS,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			log.Warn("task already exists",
				slog.String("task_id", task.ID.String()))
			return fmt.Errorf("%w: task %s", store.ErrDuplicate, task.ID)
		}
		if IsForeignKeyViolation(err) {
			log.Warn("parent task not found during create",
				slog.String("task_id", task.ID.String()))
			return store.ErrParentTaskNotFound
		}
		log.Error("failed to create task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return store.NewStoreError("task", "create", "failed to insert task", MapError(err))
	}

	log.Debug("task created",
		slog.String("task_id", task.ID.String()),
		slog.String("status", string(task.Status)))
	return nil
}

// GetByID implements store.TaskStore.GetByID.
func (s *PostgresTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return s.get(ctx, id, "")
}

// GetForUpdate implements store.TaskStore.GetForUpdate.
func (s *PostgresTaskStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	if !s.inTx {
		return s.get(ctx, id, "")
	}
	return s.get(ctx, id, " FOR UPDATE")
}

func (s *PostgresTaskStore) get(ctx context.Context, id uuid.UUID, lockClause string) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1` + lockClause

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("task not found", slog.String("task_id", id.String()))
			return nil, store.ErrTaskNotFound
		}
		log.Error("failed to get task",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return nil, store.NewStoreError("task", "get", "failed to load task", MapError(err))
	}

	return task, nil
}

// Update implements store.TaskStore.Update. Name, prompt, parent and
// created_at are immutable and never written.
func (s *PostgresTaskStore) Update(ctx context.Context, task *domain.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	query := `
		UPDATE tasks SET
			status = $2,
			scheduled_for = $3,
			updated_at = $4,
			started_at = $5,
			finished_at = $6,
			output = $7,
			error = $8,
			attempts = $9,
			max_attempts = $10,
			llm_provider = $11,
			llm_model = $12,
			latency_ms = $13
		WHERE id = $1`

	result, err := s.db.ExecContext(ctx, query,
		task.ID,
		string(task.Status),
		task.ScheduledFor,
		task.UpdatedAt,
		task.StartedAt,
		task.FinishedAt,
		task.Output,
		task.Error,
		task.Attempts,
		task.MaxAttempts,
		task.LLMProvider,
		task.LLMModel,
		task.LatencyMS,
	)
	if err != nil {
		if IsCheckConstraintViolation(err) {
			log.Warn("task update rejected by constraint",
				slog.String("error", err.Error()),
				slog.String("task_id", task.ID.String()))
			return fmt.Errorf("%w: %w", store.ErrUpdateFailed, MapError(err))
		}
		log.Error("failed to update task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return store.NewStoreError("task", "update", "failed to update task", MapError(err))
	}

	if err := CheckRowsAffected(result, store.ErrTaskNotFound); err != nil {
		return err
	}

	log.Debug("task updated",
		slog.String("task_id", task.ID.String()),
		slog.String("status", string(task.Status)))
	return nil
}

// List implements store.TaskStore.List.
func (s *PostgresTaskStore) List(ctx context.Context, opts store.ListOptions) ([]*domain.Task, error) {
	opts = opts.Normalize()

	var (
		where []string
		args  []any
	)
	if opts.ParentTaskID != nil {
		args = append(args, *opts.ParentTaskID)
		where = append(where, fmt.Sprintf("parent_task_id = $%d", len(args)))
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, opts.Limit, opts.Offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	return s.query(ctx, "list", query, args...)
}

// SelectDueScheduled implements store.TaskStore.SelectDueScheduled.
func (s *PostgresTaskStore) SelectDueScheduled(ctx context.Context, now time.Time, limit int) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE status = $1 AND scheduled_for IS NOT NULL AND scheduled_for <= $2
		ORDER BY scheduled_for ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED`

	return s.query(ctx, "select_due", query, string(domain.TaskStatusScheduled), now.UTC(), limit)
}

// SelectStaleQueued implements store.TaskStore.SelectStaleQueued.
func (s *PostgresTaskStore) SelectStaleQueued(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Task, error) {
	return s.selectIdle(ctx, domain.TaskStatusQueued, cutoff, limit)
}

// SelectStuckRunning implements store.TaskStore.SelectStuckRunning.
func (s *PostgresTaskStore) SelectStuckRunning(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Task, error) {
	return s.selectIdle(ctx, domain.TaskStatusRunning, cutoff, limit)
}

func (s *PostgresTaskStore) selectIdle(ctx context.Context, status domain.TaskStatus, cutoff time.Time, limit int) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED`

	return s.query(ctx, "select_idle", query, string(status), cutoff.UTC(), limit)
}

func (s *PostgresTaskStore) query(ctx context.Context, op, query string, args ...any) ([]*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query tasks",
			slog.String("operation", op),
			slog.String("error", err.Error()))
		return nil, store.NewStoreError("task", op, "failed to query tasks", MapError(err))
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			log.Error("failed to close rows", slog.String("error", cerr.Error()))
		}
	}()

	tasks := make([]*domain.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			log.Error("failed to scan task row",
				slog.String("operation", op),
				slog.String("error", err.Error()))
			return nil, store.NewStoreError("task", op, "failed to scan task", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("task", op, "failed to iterate tasks", MapError(err))
	}

	return tasks, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task   domain.Task
		status string
	)

	err := row.Scan(
		&task.ID,
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
		&task.ParentTaskID,
		&task.LLMProvider,
		&task.LLMModel,
		&task.LatencyMS,
	)
	if err != nil {
		return nil, err
	}

	task.Status = domain.TaskStatus(status)
	return &task, nil
}
