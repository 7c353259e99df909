package workflow

import (
	"github.com/jasoet/go-iguazu/task/activity"
	"go.temporal.io/sdk/worker"
)

// RegisterWorkflows registers all task workflows with a worker.
func RegisterWorkflows(w worker.Worker) {
	w.RegisterWorkflow(FlowWorkflow)
	w.RegisterWorkflow(TaskWorkflow)
}

// RegisterActivities registers the task activities with a worker.
func RegisterActivities(w worker.Worker, acts *activity.Activities) {
	w.RegisterActivity(acts)
}

// RegisterAll registers both workflows and activities.
func RegisterAll(w worker.Worker, acts *activity.Activities) {
	RegisterWorkflows(w)
	RegisterActivities(w, acts)
}
