package task

import (
	"context"
	"os"
	"sync/atomic"

	"github.com/jasoet/go-iguazu/task/artifacts"
)

// deriveTask produces one child of input "p" with a suffix. Behavior is
// driven by the run function.
type deriveTask struct {
	name   string
	suffix string
	runs   atomic.Int32
	run    func(ctx context.Context, in Inputs, out *artifacts.Artifact) (any, error)
	pre    func(ctx context.Context, in Inputs) error
	post   func(ctx context.Context, in Inputs, result any) error
}

func newDeriveTask(name string, run func(ctx context.Context, in Inputs, out *artifacts.Artifact) (any, error)) *deriveTask {
	return &deriveTask{name: name, suffix: "_t", run: run}
}

func (t *deriveTask) Name() string    { return t.name }
func (t *deriveTask) Version() string { return "1.0.0" }

func (t *deriveTask) DefaultOutputs(ctx context.Context, in Inputs) (any, error) {
	p, ok := in.Artifact("p")
	if !ok {
		return nil, nil
	}
	return p.DeriveChild(ctx, artifacts.ChildOptions{Suffix: t.suffix})
}

func (t *deriveTask) Run(ctx context.Context, in Inputs) (any, error) {
	t.runs.Add(1)
	out, err := t.DefaultOutputs(ctx, in)
	if err != nil {
		return nil, err
	}
	handle, _ := out.(*artifacts.Artifact)
	return t.run(ctx, in, handle)
}

func (t *deriveTask) Preconditions(ctx context.Context, in Inputs) error {
	if t.pre == nil {
		return nil
	}
	return t.pre(ctx, in)
}

func (t *deriveTask) Postconditions(ctx context.Context, in Inputs, result any) error {
	if t.post == nil {
		return nil
	}
	return t.post(ctx, in, result)
}

// writeOutput writes content to the output artifact and returns it.
func writeOutput(content string) func(ctx context.Context, in Inputs, out *artifacts.Artifact) (any, error) {
	return func(ctx context.Context, in Inputs, out *artifacts.Artifact) (any, error) {
		path, err := out.Materialize(ctx)
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return nil, err
		}
		return out, nil
	}
}

func mustOptions(opts ...Option) Options {
	o, err := NewOptions(opts...)
	if err != nil {
		panic(err)
	}
	return o
}

// funcTask is a task built from plain functions.
type funcTask struct {
	name    string
	runs    atomic.Int32
	run     func(ctx context.Context, in Inputs) (any, error)
	outputs func(ctx context.Context, in Inputs) (any, error)
}

func (t *funcTask) Name() string    { return t.name }
func (t *funcTask) Version() string { return "0.1.0" }

func (t *funcTask) Run(ctx context.Context, in Inputs) (any, error) {
	t.runs.Add(1)
	return t.run(ctx, in)
}

func (t *funcTask) DefaultOutputs(ctx context.Context, in Inputs) (any, error) {
	if t.outputs == nil {
		return nil, nil
	}
	return t.outputs(ctx, in)
}
