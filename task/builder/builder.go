package builder

import (
	"errors"
	"fmt"

	"github.com/jasoet/go-iguazu/task/payload"
)

// FlowBuilder provides a fluent API for constructing flow inputs.
//
// Example usage:
//
//	input, err := NewFlowBuilder("ecg").
//	    Add(cleanNode).
//	    Then(NewTaskNode("features", "ecg.Features"), "signal").
//	    Build()
type FlowBuilder struct {
	name       string
	nodes      []payload.FlowNode
	parameters map[string]any
	failFast   bool
	errors     []error
}

// NewFlowBuilder creates a new flow builder with the specified name.
func NewFlowBuilder(name string, opts ...BuilderOption) *FlowBuilder {
	b := &FlowBuilder{
		name:       name,
		nodes:      make([]payload.FlowNode, 0),
		parameters: make(map[string]any),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Add adds a node source to the flow.
func (b *FlowBuilder) Add(source NodeSource) *FlowBuilder {
	if source == nil {
		b.errors = append(b.errors, errors.New("cannot add nil source"))
		return b
	}
	return b.AddNode(source.ToNode())
}

// AddNode adds a flow node directly.
func (b *FlowBuilder) AddNode(node payload.FlowNode) *FlowBuilder {
	b.nodes = append(b.nodes, node)
	return b
}

// Then adds source with its input named input wired to the result of the
// previously added node.
//
// Example:
//
//	b.Add(clean).Then(features, "signal")
func (b *FlowBuilder) Then(source NodeSource, input string) *FlowBuilder {
	if len(b.nodes) == 0 {
		b.errors = append(b.errors, fmt.Errorf("no node to chain %s after", input))
		return b
	}
	if source == nil {
		b.errors = append(b.errors, errors.New("cannot chain nil source"))
		return b
	}

	node := source.ToNode()
	WithInput(input, payload.FromNode(b.nodes[len(b.nodes)-1].Name))(&node)
	return b.AddNode(node)
}

// Parameter sets one parameter shared by every node.
func (b *FlowBuilder) Parameter(name string, value any) *FlowBuilder {
	b.parameters[name] = value
	return b
}

// FailFast configures whether the flow stops at the first hard failure.
func (b *FlowBuilder) FailFast(failFast bool) *FlowBuilder {
	b.failFast = failFast
	return b
}

// Build validates and returns the flow input.
func (b *FlowBuilder) Build() (*payload.FlowInput, error) {
	if len(b.errors) > 0 {
		return nil, b.errors[0]
	}

	input := &payload.FlowInput{
		Nodes:    append([]payload.FlowNode(nil), b.nodes...),
		FailFast: b.failFast,
	}
	if len(b.parameters) > 0 {
		input.Parameters = make(map[string]any, len(b.parameters))
		for name, value := range b.parameters {
			input.Parameters[name] = value
		}
	}

	if err := input.Validate(); err != nil {
		return nil, fmt.Errorf("flow %s validation failed: %w", b.name, err)
	}
	return input, nil
}

// Name returns the flow name.
func (b *FlowBuilder) Name() string {
	return b.name
}

// Count returns the number of nodes added.
func (b *FlowBuilder) Count() int {
	return len(b.nodes)
}

// Errors returns all errors accumulated during building.
func (b *FlowBuilder) Errors() []error {
	return b.errors
}
