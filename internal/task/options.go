package task

import (
	"log/slog"
	"time"

	"github.com/phrazzld/llm-orchestrator/internal/platform/telemetry"
	"go.opentelemetry.io/otel/trace"
)

// Option configures the ambient dependencies shared by the orchestration
// components.
type Option func(*deps)

type deps struct {
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *telemetry.Metrics
	now     func() time.Time
}

// WithLogger sets the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *deps) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithTelemetry sets the tracer and metric instruments.
func WithTelemetry(tracer trace.Tracer, metrics *telemetry.Metrics) Option {
	return func(r *deps) {
		if tracer != nil {
			r.tracer = tracer
		}
		if metrics != nil {
			r.metrics = metrics
		}
	}
}

// WithClock overrides time.Now; used by tests.
func WithClock(now func() time.Time) Option {
	return func(r *deps) {
		if now != nil {
			r.now = now
		}
	}
}

func newDeps(component string, opts []Option) deps {
	noop := telemetry.Noop()
	r := deps{
		logger:  slog.Default(),
		tracer:  noop.Tracer,
		metrics: telemetry.NoopMetrics(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&r)
	}
	r.logger = r.logger.With(slog.String("component", component))
	return r
}

func (r deps) clock() time.Time {
	return r.now().UTC()
}
