package builder

import (
	"errors"
	"fmt"

	"github.com/jasoet/go-iguazu/task/payload"
)

// Pipeline chains tasks so that each one receives the result of the previous
// one as its input named param. The first task receives input.
//
// Example:
//
//	flow, err := builder.Pipeline("signal", payload.ArtifactValue(raw),
//	    "ecg.Clean", "ecg.Features")
func Pipeline(param string, input payload.Value, tasks ...string) (*payload.FlowInput, error) {
	if len(tasks) == 0 {
		return nil, errors.New("at least one task is required")
	}

	b := NewFlowBuilder("pipeline", WithFailFast(true))
	b.Add(NewTaskNode(tasks[0], tasks[0], WithInput(param, input)))
	for _, name := range tasks[1:] {
		b.Then(NewTaskNode(name, name), param)
	}
	return b.Build()
}

// ForEach invokes taskName once per item, passing the item as param. Nodes
// are independent and named "<taskName>-<index>".
//
// Example:
//
//	flow, err := builder.ForEach("ecg.Clean", "signal", recordings)
func ForEach(taskName, param string, items []payload.Value, opts ...NodeOption) (*payload.FlowInput, error) {
	if len(items) == 0 {
		return nil, errors.New("at least one item is required")
	}

	b := NewFlowBuilder("for-each")
	for i, item := range items {
		nodeOpts := append([]NodeOption{WithInput(param, item)}, opts...)
		b.Add(NewTaskNode(forEachName(taskName, i), taskName, nodeOpts...))
	}
	return b.Build()
}

// FanOutFanIn runs fanOut once per item and then fanIn once over every
// result, passed as a tuple in its input named collect.
//
// Example:
//
//	flow, err := builder.FanOutFanIn("ecg.Features", "signal", recordings,
//	    "ecg.Report", "features")
func FanOutFanIn(fanOut, param string, items []payload.Value, fanIn, collect string) (*payload.FlowInput, error) {
	if len(items) == 0 {
		return nil, errors.New("at least one item is required")
	}

	b := NewFlowBuilder("fan-out-fan-in")
	refs := make([]payload.Value, len(items))
	for i, item := range items {
		name := forEachName(fanOut, i)
		b.Add(NewTaskNode(name, fanOut, WithInput(param, item)))
		refs[i] = payload.FromNode(name)
	}
	b.Add(NewTaskNode(fanIn, fanIn, WithInput(collect, payload.Value{Tuple: refs})))
	return b.Build()
}

func forEachName(taskName string, index int) string {
	return fmt.Sprintf("%s-%d", taskName, index)
}
