package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jasoet/go-iguazu/task/artifacts"
	"go.temporal.io/sdk/log"
)

// State is a task execution state.
type State string

const (
	StatePending               State = "PENDING"
	StateRunning               State = "RUNNING"
	StateSucceeded             State = "SUCCEEDED"
	StateGracefullyFailed      State = "GRACEFULLY_FAILED"
	StateSkippedPreviousResult State = "SKIPPED_PREVIOUS_RESULT"
	StateHardFailed            State = "HARD_FAILED"
)

// Finished reports whether downstream tasks can consume the result.
func (s State) Finished() bool {
	switch s {
	case StateSucceeded, StateGracefullyFailed, StateSkippedPreviousResult:
		return true
	}
	return false
}

// Task is the user computation wrapped by Managed.
type Task interface {
	// Name is the qualified task name recorded in the journal.
	Name() string

	// Version is recorded in the journal as task_version.
	Version() string

	// Run performs the computation. Managed inputs arrive decoded.
	Run(ctx context.Context, in Inputs) (any, error)

	// DefaultOutputs returns the outputs Run would produce, as bare or
	// existing handles, computed only from the original inputs.
	DefaultOutputs(ctx context.Context, in Inputs) (any, error)
}

// Preconditioner adds task-specific checks after the framework checks.
type Preconditioner interface {
	Preconditions(ctx context.Context, in Inputs) error
}

// Postconditioner asserts properties of the result. Failures should be
// created with NewPostconditionError.
type Postconditioner interface {
	Postconditions(ctx context.Context, in Inputs, result any) error
}

// Outcome is the terminal result of one execution.
type Outcome struct {
	State   State
	Result  any
	Problem *Problem
	Message string
	Cached  bool
}

// Managed wraps a Task with the execution contract: preconditions, managed
// inputs, failure classification and output finalization.
type Managed struct {
	task        Task
	opts        Options
	logger      log.Logger
	forcedNames []string
	cache       RunCache
	hooks       *Hooks
	metrics     *Metrics
}

// ManagedOption is a functional option for configuring Managed.
type ManagedOption func(*Managed)

// WithLogger sets the logger used by the managed task.
func WithLogger(logger log.Logger) ManagedOption {
	return func(m *Managed) {
		m.logger = logger
	}
}

// WithForcedNames sets the task names that are always recomputed.
func WithForcedNames(names ...string) ManagedOption {
	return func(m *Managed) {
		m.forcedNames = append(m.forcedNames, names...)
	}
}

// WithRunCache enables fingerprint based reuse in ExecuteCached.
func WithRunCache(cache RunCache) ManagedOption {
	return func(m *Managed) {
		m.cache = cache
	}
}

// WithHooks registers per-state side effects.
func WithHooks(hooks *Hooks) ManagedOption {
	return func(m *Managed) {
		m.hooks = hooks
	}
}

// WithMetrics records execution metrics.
func WithMetrics(metrics *Metrics) ManagedOption {
	return func(m *Managed) {
		m.metrics = metrics
	}
}

// NewManaged composes t with validated options.
//
// Example:
//
//	opts, _ := task.NewOptions(task.WithForce(false))
//	managed, err := task.NewManaged(cleanECG{}, opts, task.WithForcedNames("ecg.Clean"))
//	outcome, err := managed.Execute(ctx, task.Inputs{"signals": raw})
func NewManaged(t Task, opts Options, mopts ...ManagedOption) (*Managed, error) {
	if t == nil {
		return nil, errors.New("task is required")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	m := &Managed{task: t, opts: opts}
	for _, opt := range mopts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = log.NewStructuredLogger(slog.Default())
	}
	m.logger = log.With(m.logger, "task", t.Name())
	return m, nil
}

// Task returns the wrapped task.
func (m *Managed) Task() Task {
	return m.task
}

// Options returns the task options.
func (m *Managed) Options() Options {
	return m.opts
}

// Forced reports whether previous results are ignored for this task.
func (m *Managed) Forced() bool {
	return m.opts.Force || slices.Contains(m.forcedNames, m.task.Name())
}

// ExecuteCached consults the run cache before executing. A reuse returns the
// recorded result without touching any artifact.
func (m *Managed) ExecuteCached(ctx context.Context, in Inputs, key string, current Fingerprints) (Outcome, error) {
	if m.cache == nil {
		return m.Execute(ctx, in)
	}

	var previous *Fingerprints
	if record, ok := m.cache.Get(key); ok {
		previous = &record.Fingerprints
		decision := Decide(CacheQuery{
			Forced:      m.opts.Force,
			ForcedNames: m.forcedNames,
			TaskName:    m.task.Name(),
			Policy:      m.opts.Cache,
			Previous:    previous,
			Current:     current,
		})
		if decision == DecisionReuse {
			m.logger.Info("Reusing previous result", "key", key)
			outcome := Outcome{
				State:   StateSkippedPreviousResult,
				Result:  record.Result,
				Message: "cached result reused",
				Cached:  true,
			}
			m.fire(ctx, outcome, nil, 0)
			return outcome, nil
		}
	}

	outcome, err := m.Execute(ctx, in)
	if err == nil && outcome.State.Finished() {
		m.cache.Put(key, RunRecord{Fingerprints: current, State: outcome.State, Result: outcome.Result})
	}
	return outcome, err
}

// Execute runs the task once. Graceful failures and skips return a nil error.
// Hard failures return the original error unchanged. Default outputs are
// deleted only when the failure happened after the preconditions passed,
// since before that nothing was written. Control signals are returned
// untouched.
func (m *Managed) Execute(ctx context.Context, in Inputs) (Outcome, error) {
	start := time.Now()
	m.logger.Info("Starting task", "inputs", len(in))
	m.fire(ctx, Outcome{State: StateRunning}, nil, 0)

	parents := parentIDs(in)
	callInputs := in.Clone()

	// written is set once outputs may hold partial data.
	written := false
	err := m.preconditions(ctx, in)
	if err == nil {
		written = true
		var result any
		result, err = m.run(ctx, in, callInputs)
		if err == nil {
			err = m.finalize(ctx, result, parents, nil)
			if err == nil {
				m.autoClean(in, result)
				outcome := Outcome{State: StateSucceeded, Result: result, Message: "task succeeded"}
				m.logger.Info("Task succeeded", "duration", time.Since(start))
				m.fire(ctx, outcome, nil, time.Since(start))
				return outcome, nil
			}
		}
	}

	if IsControlSignal(ctx, err) {
		m.logger.Warn("Task interrupted by scheduler", "error", err)
		return Outcome{State: StateRunning}, err
	}

	kind := KindOf(err)
	problem := &Problem{Type: string(kind), Title: TitleOf(err)}

	if m.opts.IsGraceful(kind) {
		outcome, gerr := m.finishGracefully(ctx, in, parents, err, problem)
		if gerr == nil {
			m.fire(ctx, outcome, err, time.Since(start))
			return outcome, nil
		}
		if IsControlSignal(ctx, gerr) {
			return Outcome{State: StateRunning}, gerr
		}
		if !kind.Is(KindPreviousResultsExist) {
			written = true
		}
		err = gerr
		kind = KindOf(err)
		problem = &Problem{Type: string(kind), Title: TitleOf(err)}
	}

	m.logger.Error("Task failed", "kind", kind, "error", err)
	if written {
		m.cleanup(ctx, in)
	} else {
		m.logger.Warn("Task failed before running, default outputs left in place", "kind", kind)
	}
	outcome := Outcome{State: StateHardFailed, Problem: problem, Message: err.Error()}
	m.fire(ctx, outcome, err, time.Since(start))
	return outcome, err
}

// run covers managed inputs, the user computation and postconditions.
func (m *Managed) run(ctx context.Context, in, callInputs Inputs) (any, error) {
	if err := m.materializeInputs(ctx, callInputs); err != nil {
		return nil, err
	}

	ctx = withOriginalInputs(ctx, in)
	result, err := m.task.Run(ctx, callInputs)
	if err != nil {
		return result, err
	}

	if pc, ok := m.task.(Postconditioner); ok {
		if err := pc.Postconditions(ctx, callInputs, result); err != nil {
			return result, err
		}
	}
	return result, nil
}

// preconditions runs the idempotency guard, the upstream failure guard and
// finally the task's own checks.
func (m *Managed) preconditions(ctx context.Context, in Inputs) error {
	family := m.opts.JournalFamily

	if !m.Forced() {
		outputs, err := m.task.DefaultOutputs(ctx, in)
		if err != nil {
			return fmt.Errorf("failed to compute default outputs: %w", err)
		}
		produced, err := alreadyProduced(ctx, outputs, family)
		if err != nil {
			return err
		}
		if produced {
			return PreviousResults(outputs)
		}
	}

	for _, name := range sortedKeys(in) {
		for _, a := range Artifacts(in[name]) {
			status, err := StatusOf(ctx, a, family)
			if err != nil {
				return err
			}
			if status == StatusFailed {
				return NewPreconditionError(KindSoftPreconditionFailed,
					fmt.Sprintf("input %s (%s) has status %s", name, a, StatusFailed))
			}
		}
	}

	if pc, ok := m.task.(Preconditioner); ok {
		return pc.Preconditions(ctx, in)
	}
	return nil
}

// alreadyProduced reports whether every default output carries a journal status.
func alreadyProduced(ctx context.Context, outputs any, family string) (bool, error) {
	handles := Artifacts(outputs)
	if len(handles) == 0 {
		return false, nil
	}
	for _, a := range handles {
		status, err := StatusOf(ctx, a, family)
		if err != nil {
			return false, err
		}
		if status == "" {
			return false, nil
		}
	}
	return true, nil
}

// finishGracefully finishes a graceful failure with the default outputs, or the result
// carried by the error.
func (m *Managed) finishGracefully(ctx context.Context, in Inputs, parents []string, cause error, problem *Problem) (Outcome, error) {
	result, ok := ResultOf(cause)
	if !ok {
		var err error
		result, err = m.task.DefaultOutputs(ctx, in)
		if err != nil {
			return Outcome{}, fmt.Errorf("failed to compute default outputs: %w", err)
		}
	}

	if KindOf(cause).Is(KindPreviousResultsExist) {
		m.logger.Info("Previous results exist, skipping")
		return Outcome{
			State:   StateSkippedPreviousResult,
			Result:  result,
			Problem: problem,
			Message: problem.Title,
		}, nil
	}

	m.logger.Warn("Task failed gracefully", "kind", problem.Type, "title", problem.Title)
	if err := m.finalize(ctx, result, parents, cause); err != nil {
		return Outcome{}, err
	}
	m.autoClean(in, result)

	return Outcome{
		State:   StateGracefullyFailed,
		Result:  result,
		Problem: problem,
		Message: problem.Title,
	}, nil
}

// finalize makes sure every output artifact has a file, merges the journal
// into it and persists data then metadata.
func (m *Managed) finalize(ctx context.Context, result any, parents []string, cause error) error {
	journal := NewJournal(m.task, parents, cause).ToFamily()

	for _, a := range Artifacts(result) {
		if err := ensureFile(a); err != nil {
			return err
		}

		family := a.Family(m.opts.JournalFamily)
		for k, v := range journal {
			family[k] = v
		}

		if err := a.Persist(ctx); err != nil {
			return fmt.Errorf("failed to persist %s: %w", a, err)
		}
		m.logger.Debug("Persisted output", "artifact", a.String(), "status", journal["status"])
	}
	return nil
}

// ensureFile creates an empty file for outputs the task never wrote.
func ensureFile(a *artifacts.Artifact) error {
	if a.Persisted() {
		return nil
	}
	path := a.LocalPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", a, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create empty file for %s: %w", a, err)
	}
	return f.Close()
}

// cleanup deletes the default outputs after a hard failure. Errors are logged.
func (m *Managed) cleanup(ctx context.Context, in Inputs) {
	outputs, err := m.task.DefaultOutputs(ctx, in)
	if err != nil {
		m.logger.Error("Failed to compute default outputs for cleanup", "error", err)
		return
	}

	var errs *multierror.Error
	for _, a := range Artifacts(outputs) {
		if err := a.Delete(ctx); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to delete %s: %w", a, err))
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		m.logger.Error("Failed to clean up default outputs", "error", err)
	}
}

// autoClean removes local copies of remote inputs and outputs.
func (m *Managed) autoClean(in Inputs, result any) {
	if !m.opts.AutoCleanFiles {
		return
	}
	for _, a := range append(Artifacts(in), Artifacts(result)...) {
		if err := a.Clean(); err != nil {
			m.logger.Warn("Failed to remove local copy", "artifact", a.String(), "error", err)
		}
	}
}

func (m *Managed) fire(ctx context.Context, outcome Outcome, err error, elapsed time.Duration) {
	if m.metrics != nil && outcome.State != StateRunning {
		m.metrics.Record(ctx, m.task.Name(), outcome, elapsed)
	}
	if m.hooks != nil {
		m.hooks.Fire(ctx, HookEvent{
			Task:    m.task.Name(),
			Outcome: outcome,
			Err:     err,
			Logger:  m.logger,
		})
	}
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	return slices.Sorted(maps.Keys(m))
}
