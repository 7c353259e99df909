package payload

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jasoet/go-iguazu/task"
)

var validate = validator.New()

// TaskInvocation asks a worker to execute one registered task.
type TaskInvocation struct {
	// Task is the registered task name
	Task string `json:"task" validate:"required"`

	// Inputs are the named task inputs
	Inputs map[string]Value `json:"inputs,omitempty"`

	// Parameters are passed to the task as literal inputs and fingerprinted
	// separately from Inputs
	Parameters map[string]any `json:"parameters,omitempty"`

	// CacheKey identifies the run cache slot. Defaults to Task.
	CacheKey string `json:"cache_key,omitempty"`

	// Force recomputes even when previous results exist
	Force bool `json:"force"`
}

// Key returns the run cache key of the invocation.
func (i *TaskInvocation) Key() string {
	if i.CacheKey != "" {
		return i.CacheKey
	}
	return i.Task
}

// Validate validates the invocation.
func (i *TaskInvocation) Validate() error {
	if err := validate.Struct(i); err != nil {
		return err
	}
	for name, v := range i.Inputs {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("input %s: %w", name, err)
		}
		if _, ok := i.Parameters[name]; ok {
			return fmt.Errorf("input %s is also a parameter", name)
		}
	}
	return nil
}

// References returns the upstream nodes the inputs refer to.
func (i *TaskInvocation) References() []string {
	var nodes []string
	for _, name := range sortedNames(i.Inputs) {
		nodes = append(nodes, i.Inputs[name].References()...)
	}
	return nodes
}

// TaskOutcome is the serializable result of one task execution.
type TaskOutcome struct {
	Task     string        `json:"task"`
	State    task.State    `json:"state"`
	Result   Value         `json:"result"`
	Problem  *task.Problem `json:"problem,omitempty"`
	Message  string        `json:"message,omitempty"`
	Cached   bool          `json:"cached"`
	Duration time.Duration `json:"duration"`
}

// NewTaskOutcome converts an execution outcome.
func NewTaskOutcome(taskName string, outcome task.Outcome, duration time.Duration) *TaskOutcome {
	return &TaskOutcome{
		Task:     taskName,
		State:    outcome.State,
		Result:   Encode(outcome.Result),
		Problem:  outcome.Problem,
		Message:  outcome.Message,
		Cached:   outcome.Cached,
		Duration: duration,
	}
}

// Finished reports whether downstream nodes can consume the result.
func (o *TaskOutcome) Finished() bool {
	return o != nil && o.State.Finished()
}
