package payload

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"
)

// FlowNode is one task invocation inside a flow.
type FlowNode struct {
	// Name is the node identifier
	Name string `json:"name" validate:"required"`

	// Invocation is the task to execute. Inputs may refer to upstream
	// results with FromNode.
	Invocation TaskInvocation `json:"invocation"`

	// Dependencies are the nodes that must finish before this node, in
	// addition to the ones its inputs refer to
	Dependencies []string `json:"dependencies,omitempty"`
}

// Requires returns every node this node waits for, without duplicates.
func (n *FlowNode) Requires() []string {
	var deps []string
	for _, dep := range append(slices.Clone(n.Dependencies), n.Invocation.References()...) {
		if !slices.Contains(deps, dep) {
			deps = append(deps, dep)
		}
	}
	return deps
}

// FlowInput defines a DAG of task invocations.
type FlowInput struct {
	// Nodes are the flow nodes
	Nodes []FlowNode `json:"nodes" validate:"required,min=1,dive"`

	// Parameters are shared by every node. Node parameters take precedence.
	Parameters map[string]any `json:"parameters,omitempty"`

	// FailFast stops the flow at the first hard failure
	FailFast bool `json:"fail_fast"`
}

// Validate validates the flow: unique names, known dependencies and no cycles.
func (i *FlowInput) Validate() error {
	if err := validate.Struct(i); err != nil {
		return err
	}

	nodes := make(map[string]*FlowNode, len(i.Nodes))
	for idx := range i.Nodes {
		node := &i.Nodes[idx]
		if _, dup := nodes[node.Name]; dup {
			return fmt.Errorf("duplicate node name: %s", node.Name)
		}
		nodes[node.Name] = node
	}

	for _, node := range i.Nodes {
		if err := node.Invocation.Validate(); err != nil {
			return fmt.Errorf("node %s: %w", node.Name, err)
		}
		for _, dep := range node.Requires() {
			if _, ok := nodes[dep]; !ok {
				return fmt.Errorf("dependency node not found: %s", dep)
			}
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	marks := make(map[string]int, len(nodes))
	var visit func(name string) error
	visit = func(name string) error {
		switch marks[name] {
		case visiting:
			return fmt.Errorf("dependency cycle through node %s", name)
		case done:
			return nil
		}
		marks[name] = visiting
		for _, dep := range nodes[name].Requires() {
			if err := visit(dep); err != nil {
				return err
			}
		}
		marks[name] = done
		return nil
	}
	for _, node := range i.Nodes {
		if err := visit(node.Name); err != nil {
			return err
		}
	}
	return nil
}

// Invocation returns the invocation of node with the flow parameters merged
// and output references resolved against results.
func (i *FlowInput) Invocation(node FlowNode, results map[string]Value) (TaskInvocation, error) {
	inv := node.Invocation
	if inv.CacheKey == "" {
		inv.CacheKey = node.Name
	}

	if len(i.Parameters) > 0 {
		params := maps.Clone(i.Parameters)
		maps.Copy(params, inv.Parameters)
		for name := range inv.Inputs {
			delete(params, name)
		}
		inv.Parameters = params
	}

	if len(inv.Inputs) > 0 {
		inputs := make(map[string]Value, len(inv.Inputs))
		for _, name := range sortedNames(inv.Inputs) {
			resolved, err := inv.Inputs[name].Resolve(results)
			if err != nil {
				return TaskInvocation{}, fmt.Errorf("input %s: %w", name, err)
			}
			inputs[name] = resolved
		}
		inv.Inputs = inputs
	}
	return inv, nil
}

// ErrUpstreamFailed marks nodes that were not executed because a node they
// depend on hard failed.
var ErrUpstreamFailed = errors.New("upstream node failed")

// FlowOutput defines flow execution results.
type FlowOutput struct {
	Results       map[string]*TaskOutcome `json:"results"`
	NodeResults   []NodeResult            `json:"node_results"`
	TotalSuccess  int                     `json:"total_success"`
	TotalGraceful int                     `json:"total_graceful"`
	TotalSkipped  int                     `json:"total_skipped"`
	TotalFailed   int                     `json:"total_failed"`
	TotalDuration time.Duration           `json:"total_duration"`
}

// NodeResult represents the result of a single flow node execution.
type NodeResult struct {
	NodeName  string       `json:"node_name"`
	Outcome   *TaskOutcome `json:"outcome,omitempty"`
	Success   bool         `json:"success"`
	Error     string       `json:"error,omitempty"`
	StartTime time.Time    `json:"start_time"`
}

func sortedNames[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
