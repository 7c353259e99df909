package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/jasoet/go-iguazu/task"
	"github.com/jasoet/go-iguazu/task/artifacts"
	"github.com/jasoet/go-iguazu/task/payload"
	"go.opentelemetry.io/otel/metric"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
)

// Application error types returned before the task runs.
const (
	ErrTypeInvalidInvocation = "iguazu.InvalidInvocation"
	ErrTypeUnknownTask       = "iguazu.UnknownTask"
)

// Activities executes registered tasks on behalf of workflows. Register an
// instance with a worker; the workflow side refers to the methods through a
// nil *Activities.
type Activities struct {
	Tasks       *task.Registry
	Backends    *artifacts.Registry
	Cache       task.RunCache
	ForcedNames []string
	Hooks       *task.Hooks
	Metrics     *task.Metrics

	// Overrides returns per-task options applied after the registered ones.
	Overrides func(taskName string) []task.Option
}

// New builds the activities of a worker from its configuration. A nil
// provider disables metrics.
func New(cfg task.WorkerConfig, tasks *task.Registry, backends *artifacts.Registry, provider metric.MeterProvider) (*Activities, error) {
	acts := &Activities{
		Tasks:       tasks,
		Backends:    backends,
		ForcedNames: cfg.ForcedTasks,
		Hooks:       task.NewHooks().OnFinished(task.LogHook()),
		Overrides:   cfg.Overrides,
	}

	if cfg.RunCacheSize > 0 {
		cache, err := task.NewLRURunCache(cfg.RunCacheSize)
		if err != nil {
			return nil, err
		}
		acts.Cache = cache
	}

	if cfg.MemoryThreshold > 0 {
		acts.Hooks.OnFinished(task.MemoryPressureHook(cfg.MemoryThreshold))
	}

	if provider != nil {
		metrics, err := task.NewMetrics(provider)
		if err != nil {
			return nil, err
		}
		acts.Metrics = metrics
	}

	return acts, nil
}

// InvokeTaskActivity executes one task invocation.
//
// Graceful failures and skips return an outcome and a nil error. Hard
// failures return a Temporal application error typed with the failure kind
// and carrying the outcome as details; only backend outages are retryable.
func (a *Activities) InvokeTaskActivity(ctx context.Context, input payload.TaskInvocation) (*payload.TaskOutcome, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Invoking task", "task", input.Task, "key", input.Key())

	startTime := time.Now()

	if err := input.Validate(); err != nil {
		return nil, temporal.NewNonRetryableApplicationError("invalid task invocation", ErrTypeInvalidInvocation, err)
	}

	var extra []task.Option
	if a.Overrides != nil {
		extra = append(extra, a.Overrides(input.Task)...)
	}
	if input.Force {
		extra = append(extra, task.WithForce(true))
	}

	t, opts, err := a.Tasks.New(input.Task, extra...)
	if err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeUnknownTask, err)
	}

	in, err := a.decodeInputs(input)
	if err != nil {
		return nil, temporal.NewNonRetryableApplicationError("failed to decode inputs", ErrTypeInvalidInvocation, err)
	}

	current, err := fingerprints(in, input.Parameters)
	if err != nil {
		return nil, temporal.NewNonRetryableApplicationError("failed to fingerprint invocation", ErrTypeInvalidInvocation, err)
	}
	for name, value := range input.Parameters {
		in[name] = value
	}

	managed, err := task.NewManaged(t, opts,
		task.WithLogger(logger),
		task.WithForcedNames(a.ForcedNames...),
		task.WithRunCache(a.Cache),
		task.WithHooks(a.Hooks),
		task.WithMetrics(a.Metrics),
	)
	if err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidInvocation, err)
	}

	outcome, err := managed.ExecuteCached(ctx, in, input.Key(), current)
	output := payload.NewTaskOutcome(input.Task, outcome, time.Since(startTime))

	if err != nil {
		if task.IsControlSignal(ctx, err) {
			return nil, err
		}

		kind := task.KindOf(err)
		logger.Error("Task failed", "task", input.Task, "kind", kind, "error", err)
		if kind == task.KindBackendUnavailable {
			return nil, temporal.NewApplicationErrorWithCause(err.Error(), string(kind), err, *output)
		}
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), string(kind), err, *output)
	}

	logger.Info("Task finished",
		"task", input.Task,
		"state", output.State,
		"cached", output.Cached,
		"duration", output.Duration)

	return output, nil
}

// decodeInputs rebuilds the runtime inputs of an invocation.
func (a *Activities) decodeInputs(input payload.TaskInvocation) (task.Inputs, error) {
	in := make(task.Inputs, len(input.Inputs)+len(input.Parameters))
	for name, v := range input.Inputs {
		decoded, err := v.Decode(a.Backends)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", name, err)
		}
		in[name] = decoded
	}
	return in, nil
}

func fingerprints(in task.Inputs, params map[string]any) (task.Fingerprints, error) {
	inputs, err := task.FingerprintInputs(in)
	if err != nil {
		return task.Fingerprints{}, err
	}
	parameters, err := task.FingerprintParameters(params)
	if err != nil {
		return task.Fingerprints{}, err
	}
	return task.Fingerprints{Inputs: inputs, Parameters: parameters}, nil
}
