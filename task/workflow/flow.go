package workflow

import (
	"errors"
	"fmt"
	"time"

	"github.com/jasoet/go-iguazu/task"
	"github.com/jasoet/go-iguazu/task/activity"
	"github.com/jasoet/go-iguazu/task/payload"
	"go.temporal.io/sdk/temporal"
	wf "go.temporal.io/sdk/workflow"
)

// DefaultActivityOptions returns the options used for task activities.
// Hard task failures are non-retryable; the retry policy only covers
// backend outages and worker crashes.
func DefaultActivityOptions() wf.ActivityOptions {
	return wf.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
		},
	}
}

// FlowWorkflow executes task invocations in a DAG. Upstream results are wired
// into downstream inputs referring to them with payload.FromNode.
//
// A graceful failure is a finished node: its dependents still run and the
// upstream failure guard of each task decides what to do. A hard failure
// stops every dependent node, and with FailFast the whole flow.
//
// Example:
//
//	input := payload.FlowInput{
//	    Nodes: []payload.FlowNode{
//	        {Name: "clean", Invocation: payload.TaskInvocation{
//	            Task:   "ecg.Clean",
//	            Inputs: map[string]payload.Value{"signal": payload.ArtifactValue(raw)},
//	        }},
//	        {Name: "features", Invocation: payload.TaskInvocation{
//	            Task:   "ecg.Features",
//	            Inputs: map[string]payload.Value{"signal": payload.FromNode("clean")},
//	        }},
//	    },
//	}
//	output, err := workflow.FlowWorkflow(ctx, input)
func FlowWorkflow(ctx wf.Context, input payload.FlowInput) (*payload.FlowOutput, error) {
	logger := wf.GetLogger(ctx)
	logger.Info("Starting flow workflow", "nodes", len(input.Nodes))

	if err := input.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flow input: %w", err)
	}

	startTime := wf.Now(ctx)
	output := &payload.FlowOutput{
		Results:     make(map[string]*payload.TaskOutcome),
		NodeResults: make([]payload.NodeResult, 0, len(input.Nodes)),
	}

	nodes := make(map[string]payload.FlowNode, len(input.Nodes))
	for _, node := range input.Nodes {
		nodes[node.Name] = node
	}

	executed := make(map[string]bool)
	failed := make(map[string]bool)
	results := make(map[string]payload.Value)

	ctx = wf.WithActivityOptions(ctx, DefaultActivityOptions())
	var acts *activity.Activities

	fail := func(result payload.NodeResult, err error) error {
		failed[result.NodeName] = true
		result.Error = err.Error()
		output.TotalFailed++
		output.NodeResults = append(output.NodeResults, result)
		logger.Error("Node failed", "name", result.NodeName, "error", err)

		if input.FailFast {
			return fmt.Errorf("node %s failed: %w", result.NodeName, err)
		}
		return nil
	}

	var executeNode func(name string) error
	executeNode = func(name string) error {
		if executed[name] {
			return nil
		}
		executed[name] = true
		node := nodes[name]

		// Execute dependencies first
		for _, dep := range node.Requires() {
			if err := executeNode(dep); err != nil {
				return err
			}
		}

		nodeResult := payload.NodeResult{NodeName: name, StartTime: wf.Now(ctx)}

		for _, dep := range node.Requires() {
			if failed[dep] {
				return fail(nodeResult, fmt.Errorf("%w: %s", payload.ErrUpstreamFailed, dep))
			}
		}

		inv, err := input.Invocation(node, results)
		if err != nil {
			return fail(nodeResult, err)
		}

		logger.Info("Executing node", "name", name, "task", inv.Task)

		var outcome payload.TaskOutcome
		err = wf.ExecuteActivity(ctx, acts.InvokeTaskActivity, inv).Get(ctx, &outcome)
		if err != nil {
			if temporal.IsCanceledError(err) {
				return err
			}
			if details, ok := failureOutcome(err); ok {
				nodeResult.Outcome = details
				output.Results[name] = details
			}
			return fail(nodeResult, err)
		}

		results[name] = outcome.Result
		output.Results[name] = &outcome
		nodeResult.Outcome = &outcome
		nodeResult.Success = true
		output.NodeResults = append(output.NodeResults, nodeResult)

		switch outcome.State {
		case task.StateGracefullyFailed:
			output.TotalGraceful++
		case task.StateSkippedPreviousResult:
			output.TotalSkipped++
		default:
			output.TotalSuccess++
		}

		logger.Info("Node completed", "name", name, "state", outcome.State, "cached", outcome.Cached)
		return nil
	}

	// Execute all nodes
	for _, node := range input.Nodes {
		if err := executeNode(node.Name); err != nil {
			output.TotalDuration = wf.Now(ctx).Sub(startTime)
			return output, err
		}
	}

	output.TotalDuration = wf.Now(ctx).Sub(startTime)

	logger.Info("Flow workflow completed",
		"success", output.TotalSuccess,
		"graceful", output.TotalGraceful,
		"skipped", output.TotalSkipped,
		"failed", output.TotalFailed,
		"duration", output.TotalDuration)

	return output, nil
}

// failureOutcome extracts the outcome attached to a hard task failure.
func failureOutcome(err error) (*payload.TaskOutcome, bool) {
	var appErr *temporal.ApplicationError
	if !errors.As(err, &appErr) || !appErr.HasDetails() {
		return nil, false
	}
	var outcome payload.TaskOutcome
	if appErr.Details(&outcome) != nil {
		return nil, false
	}
	return &outcome, true
}
