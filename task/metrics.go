package task

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ScopeName is the instrumentation scope of the task metrics.
const ScopeName = "github.com/jasoet/go-iguazu/task"

// Metrics records one counter increment and one duration sample per
// finished execution.
type Metrics struct {
	executions metric.Int64Counter
	duration   metric.Float64Histogram
}

// NewMetrics creates the instruments on provider.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(ScopeName, metric.WithInstrumentationVersion(Version))

	executions, err := meter.Int64Counter(
		"iguazu.task.executions",
		metric.WithDescription("Number of finished task executions."),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create executions counter: %w", err)
	}

	duration, err := meter.Float64Histogram(
		"iguazu.task.duration",
		metric.WithDescription("Duration of task executions."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return &Metrics{executions: executions, duration: duration}, nil
}

// Record adds one execution of taskName ending in outcome.
func (m *Metrics) Record(ctx context.Context, taskName string, outcome Outcome, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("task", taskName),
		attribute.String("state", string(outcome.State)),
		attribute.Bool("cached", outcome.Cached),
	)
	m.executions.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}
