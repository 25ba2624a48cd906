package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/llm-orchestrator/internal/domain"
	"github.com/phrazzld/llm-orchestrator/internal/store"
)

// getPathUUID extracts a UUID from the URL path parameters.
func getPathUUID(r *http.Request, paramName string) (uuid.UUID, error) {
	pathParam := chi.URLParam(r, paramName)
	if pathParam == "" {
		return uuid.Nil, fmt.Errorf("%w: %s is required", domain.ErrInvalidID, paramName)
	}

	id, err := uuid.Parse(pathParam)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s has invalid format", domain.ErrInvalidID, paramName)
	}
	return id, nil
}

// parseListOptions reads limit, offset and parent_task_id from the query
// string. Out-of-range paging values are clamped by the store.
func parseListOptions(r *http.Request) (store.ListOptions, error) {
	q := r.URL.Query()
	var opts store.ListOptions

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, fmt.Errorf("%w: limit must be an integer", domain.ErrValidation)
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, fmt.Errorf("%w: offset must be an integer", domain.ErrValidation)
		}
		opts.Offset = n
	}
	if v := q.Get("parent_task_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return opts, fmt.Errorf("%w: parent_task_id has invalid format", domain.ErrInvalidID)
		}
		opts.ParentTaskID = &id
	}
	return opts.Normalize(), nil
}
