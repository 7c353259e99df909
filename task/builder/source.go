package builder

import (
	"maps"

	"github.com/jasoet/go-iguazu/task/payload"
)

// NodeSource represents a composable flow component that can generate a
// flow node. This allows building flows from reusable parts.
//
// Example:
//
//	type CleanStep struct {
//	    recording payload.Value
//	}
//
//	func (c *CleanStep) ToNode() payload.FlowNode {
//	    return payload.FlowNode{
//	        Name:       "clean",
//	        Invocation: payload.TaskInvocation{Task: "ecg.Clean", Inputs: map[string]payload.Value{"signal": c.recording}},
//	    }
//	}
type NodeSource interface {
	// ToNode converts the source into a FlowNode
	ToNode() payload.FlowNode
}

// NodeSourceFunc is a function adapter for NodeSource interface.
type NodeSourceFunc func() payload.FlowNode

// ToNode implements NodeSource interface.
func (f NodeSourceFunc) ToNode() payload.FlowNode {
	return f()
}

// NodeOption configures a TaskNode.
type NodeOption func(*payload.FlowNode)

// WithInput sets one task input.
func WithInput(name string, value payload.Value) NodeOption {
	return func(n *payload.FlowNode) {
		if n.Invocation.Inputs == nil {
			n.Invocation.Inputs = make(map[string]payload.Value)
		}
		n.Invocation.Inputs[name] = value
	}
}

// WithParameter sets one task parameter.
func WithParameter(name string, value any) NodeOption {
	return func(n *payload.FlowNode) {
		if n.Invocation.Parameters == nil {
			n.Invocation.Parameters = make(map[string]any)
		}
		n.Invocation.Parameters[name] = value
	}
}

// WithDependencies adds nodes that must finish first.
func WithDependencies(nodes ...string) NodeOption {
	return func(n *payload.FlowNode) {
		n.Dependencies = append(n.Dependencies, nodes...)
	}
}

// WithForce recomputes the node even when previous results exist.
func WithForce(force bool) NodeOption {
	return func(n *payload.FlowNode) {
		n.Invocation.Force = force
	}
}

// WithCacheKey overrides the run cache key, which defaults to the node name.
func WithCacheKey(key string) NodeOption {
	return func(n *payload.FlowNode) {
		n.Invocation.CacheKey = key
	}
}

// TaskNode is a NodeSource invoking one registered task.
//
// Example:
//
//	clean := builder.NewTaskNode("clean", "ecg.Clean",
//	    builder.WithInput("signal", payload.ArtifactValue(raw)))
type TaskNode struct {
	node payload.FlowNode
}

// NewTaskNode creates a node named name invoking taskName.
func NewTaskNode(name, taskName string, opts ...NodeOption) *TaskNode {
	n := &TaskNode{node: payload.FlowNode{
		Name:       name,
		Invocation: payload.TaskInvocation{Task: taskName},
	}}
	for _, opt := range opts {
		opt(&n.node)
	}
	return n
}

// ToNode implements NodeSource interface. Each call returns an independent copy.
func (n *TaskNode) ToNode() payload.FlowNode {
	node := n.node
	node.Invocation.Inputs = maps.Clone(n.node.Invocation.Inputs)
	node.Invocation.Parameters = maps.Clone(n.node.Invocation.Parameters)
	node.Dependencies = append([]string(nil), n.node.Dependencies...)
	return node
}
