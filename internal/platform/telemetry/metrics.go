package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the orchestrator's instruments.
type Metrics struct {
	Transitions        metric.Int64Counter
	Claims             metric.Int64Counter
	Executions         metric.Int64Counter
	GenerationDuration metric.Float64Histogram
	DispatchErrors     metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.Transitions, err = meter.Int64Counter("orch.task.transitions",
		metric.WithDescription("Task status transitions by target status"),
	)
	if err != nil {
		return nil, err
	}

	m.Claims, err = meter.Int64Counter("orch.task.claims",
		metric.WithDescription("Successful atomic claims by source"),
	)
	if err != nil {
		return nil, err
	}

	m.Executions, err = meter.Int64Counter("orch.task.executions",
		metric.WithDescription("Executor invocations by outcome"),
	)
	if err != nil {
		return nil, err
	}

	m.GenerationDuration, err = meter.Float64Histogram("orch.llm.duration",
		metric.WithDescription("Generation call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.DispatchErrors, err = meter.Int64Counter("orch.dispatch.errors",
		metric.WithDescription("Failed enqueue attempts"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// NoopMetrics returns instruments that record nothing.
func NoopMetrics() *Metrics {
	m, err := NewMetrics(Noop().Meter)
	if err != nil {
		// noop meters never fail
		panic(err)
	}
	return m
}

// RecordTransition counts a move into status.
func (m *Metrics) RecordTransition(ctx context.Context, status string) {
	m.Transitions.Add(ctx, 1, metric.WithAttributes(AttrStatus.String(status)))
}

// RecordClaim counts a successful claim by source ("scheduler" or "executor").
func (m *Metrics) RecordClaim(ctx context.Context, source string) {
	m.Claims.Add(ctx, 1, metric.WithAttributes(AttrSource.String(source)))
}

// RecordExecution counts an executor outcome.
func (m *Metrics) RecordExecution(ctx context.Context, outcome string) {
	m.Executions.Add(ctx, 1, metric.WithAttributes(AttrOutcome.String(outcome)))
}

// RecordGeneration records the duration of one generation call.
func (m *Metrics) RecordGeneration(ctx context.Context, provider, model string, seconds float64, ok bool) {
	m.GenerationDuration.Record(ctx, seconds, metric.WithAttributes(
		AttrProvider.String(provider),
		AttrModel.String(model),
		attribute.Bool("orch.llm.ok", ok),
	))
}

// RecordDispatchError counts a failed enqueue.
func (m *Metrics) RecordDispatchError(ctx context.Context) {
	m.DispatchErrors.Add(ctx, 1)
}
