package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/phrazzld/llm-orchestrator/internal/domain"
	"github.com/phrazzld/llm-orchestrator/internal/store"
	"github.com/phrazzld/llm-orchestrator/internal/task"
	"github.com/stretchr/testify/assert"
)

func TestErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantMessage string
	}{
		{
			name:        "task not found",
			err:         fmt.Errorf("get: %w", store.ErrTaskNotFound),
			wantStatus:  http.StatusNotFound,
			wantMessage: "Task not found",
		},
		{
			name:        "parent not found",
			err:         store.ErrParentTaskNotFound,
			wantStatus:  http.StatusNotFound,
			wantMessage: "Parent task not found",
		},
		{
			name:        "parent not completed",
			err:         fmt.Errorf("%w: parent is queued", task.ErrParentNotCompleted),
			wantStatus:  http.StatusConflict,
			wantMessage: "Parent task must be completed before chaining",
		},
		{
			name:        "not retryable",
			err:         task.ErrNotRetryable,
			wantStatus:  http.StatusConflict,
			wantMessage: "Only failed tasks can be retried",
		},
		{
			name:        "domain validation",
			err:         fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrInvalidMaxAttempts),
			wantStatus:  http.StatusUnprocessableEntity,
			wantMessage: "Max attempts must be between 1 and 20",
		},
		{
			name:        "invalid id",
			err:         fmt.Errorf("%w: id has invalid format", domain.ErrInvalidID),
			wantStatus:  http.StatusBadRequest,
			wantMessage: "Invalid task ID",
		},
		{
			name:        "unknown error",
			err:         errors.New("pq: relation tasks does not exist"),
			wantStatus:  http.StatusInternalServerError,
			wantMessage: "An unexpected error occurred",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.wantStatus, MapErrorToStatusCode(tc.err))
			assert.Equal(t, tc.wantMessage, GetSafeErrorMessage(tc.err))
		})
	}
}

func TestGetSafeErrorMessage_Nil(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "An unexpected error occurred", GetSafeErrorMessage(nil))
}
