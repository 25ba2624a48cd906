package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/llm-orchestrator/internal/api"
	apiMiddleware "github.com/phrazzld/llm-orchestrator/internal/api/middleware"
)

// setupRouter creates and configures the application router with all routes
// and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.Trace(app.telemetry.Tracer, app.logger))
	r.Use(apiMiddleware.CORS)

	r.Get("/health", api.Health)
	api.NewTaskHandler(app.service, app.logger).RegisterRoutes(r)

	return r
}
