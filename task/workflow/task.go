package workflow

import (
	"errors"
	"fmt"

	"github.com/jasoet/go-iguazu/task/activity"
	"github.com/jasoet/go-iguazu/task/payload"
	wf "go.temporal.io/sdk/workflow"
)

// TaskWorkflow executes a single task invocation.
//
// Example:
//
//	input := payload.TaskInvocation{
//	    Task:   "ecg.Clean",
//	    Inputs: map[string]payload.Value{"signal": payload.ArtifactValue(raw)},
//	}
//	output, err := workflow.TaskWorkflow(ctx, input)
func TaskWorkflow(ctx wf.Context, input payload.TaskInvocation) (*payload.TaskOutcome, error) {
	logger := wf.GetLogger(ctx)
	logger.Info("Starting task workflow", "task", input.Task)

	if err := input.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task invocation: %w", err)
	}
	if refs := input.References(); len(refs) > 0 {
		return nil, errors.New("task invocation refers to flow nodes: " + refs[0])
	}

	ctx = wf.WithActivityOptions(ctx, DefaultActivityOptions())

	var acts *activity.Activities
	var output payload.TaskOutcome
	if err := wf.ExecuteActivity(ctx, acts.InvokeTaskActivity, input).Get(ctx, &output); err != nil {
		logger.Error("Task workflow failed", "task", input.Task, "error", err)
		return nil, err
	}

	logger.Info("Task workflow completed", "task", input.Task, "state", output.State)
	return &output, nil
}
