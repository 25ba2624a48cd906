package task_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/llm-orchestrator/internal/domain"
	"github.com/phrazzld/llm-orchestrator/internal/mocks"
	"github.com/phrazzld/llm-orchestrator/internal/platform/logger"
	"github.com/phrazzld/llm-orchestrator/internal/platform/memory"
	"github.com/phrazzld/llm-orchestrator/internal/task"
	"github.com/stretchr/testify/require"
)

// harness wires the orchestration components around an in-memory store and
// recording fakes.
type harness struct {
	store      *memory.TaskStore
	dispatcher *mocks.Dispatcher
	generator  *mocks.Generator
	service    *task.Service
	executor   *task.Executor
	scheduler  *task.Scheduler
	logs       *logger.TestLogBuffer
}

func newHarness(t *testing.T, gen *mocks.Generator) *harness {
	t.Helper()
	if gen == nil {
		gen = mocks.NewGeneratorWithOutput("generated text")
	}

	log, buf := logger.GetTestLogger(t)
	s := memory.NewTaskStore(log)
	d := &mocks.Dispatcher{}
	opts := []task.Option{task.WithLogger(log)}

	return &harness{
		store:      s,
		dispatcher: d,
		generator:  gen,
		service:    task.NewService(s, d, 0, opts...),
		executor:   task.NewExecutor(s, gen, d, task.ExecutorConfig{}, opts...),
		scheduler:  task.NewScheduler(s, d, task.DefaultSchedulerConfig(), opts...),
		logs:       buf,
	}
}

func (h *harness) create(t *testing.T, params task.CreateParams) *domain.Task {
	t.Helper()
	if params.Name == "" {
		params.Name = "summarize"
	}
	if params.Prompt == "" {
		params.Prompt = "Summarize the quarterly report."
	}
	created, err := h.service.Create(context.Background(), params)
	require.NoError(t, err)
	return created
}

// seed stores a task in an arbitrary state without dispatching it.
func (h *harness) seed(t *testing.T, mutate func(*domain.Task)) *domain.Task {
	t.Helper()
	seeded, err := domain.NewTask(domain.NewTaskParams{Name: "seeded", Prompt: "prompt"}, time.Now())
	require.NoError(t, err)
	if mutate != nil {
		mutate(seeded)
	}
	require.NoError(t, h.store.Create(context.Background(), seeded))
	return seeded
}

func (h *harness) get(t *testing.T, id uuid.UUID) *domain.Task {
	t.Helper()
	got, err := h.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	return got
}

func failingGenerator(msg string) *mocks.Generator {
	return &mocks.Generator{
		GenerateFn: func(context.Context, string) (string, error) {
			return "", errors.New(msg)
		},
	}
}

func ptr[T any](v T) *T { return &v }
