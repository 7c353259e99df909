package payload

import (
	"errors"
	"fmt"

	"github.com/jasoet/go-iguazu/task"
	"github.com/jasoet/go-iguazu/task/artifacts"
)

// OutputRef points at the result of an upstream flow node.
type OutputRef struct {
	// Node is the upstream node name
	Node string `json:"node" validate:"required"`

	// Index selects one element of a tuple result. Nil takes the whole result.
	Index *int `json:"index,omitempty"`
}

// Value is the serializable form of one task input or result. Exactly one
// field is set; the zero Value stands for nil.
type Value struct {
	Literal  any            `json:"literal,omitempty"`
	Artifact *artifacts.Ref `json:"artifact,omitempty"`
	Tuple    []Value        `json:"tuple,omitempty"`
	From     *OutputRef     `json:"from,omitempty"`
}

// Literal wraps a plain value.
func Literal(v any) Value {
	return Value{Literal: v}
}

// ArtifactValue wraps the reference of a.
func ArtifactValue(a *artifacts.Artifact) Value {
	ref := a.Ref()
	return Value{Artifact: &ref}
}

// FromNode refers to the whole result of node.
func FromNode(node string) Value {
	return Value{From: &OutputRef{Node: node}}
}

// FromNodeIndex refers to one element of the tuple result of node.
func FromNodeIndex(node string, index int) Value {
	return Value{From: &OutputRef{Node: node, Index: &index}}
}

// IsZero reports whether v carries nothing.
func (v Value) IsZero() bool {
	return v.Literal == nil && v.Artifact == nil && v.Tuple == nil && v.From == nil
}

// Validate checks that at most one form is set, recursively.
func (v Value) Validate() error {
	set := 0
	if v.Literal != nil {
		set++
	}
	if v.Artifact != nil {
		set++
		if err := validate.Struct(v.Artifact); err != nil {
			return fmt.Errorf("invalid artifact reference: %w", err)
		}
	}
	if v.Tuple != nil {
		set++
		for i, item := range v.Tuple {
			if err := item.Validate(); err != nil {
				return fmt.Errorf("tuple[%d]: %w", i, err)
			}
		}
	}
	if v.From != nil {
		set++
		if err := validate.Struct(v.From); err != nil {
			return fmt.Errorf("invalid output reference: %w", err)
		}
	}
	if set > 1 {
		return errors.New("value must set only one of literal, artifact, tuple or from")
	}
	return nil
}

// References returns the upstream nodes v depends on.
func (v Value) References() []string {
	if v.From != nil {
		return []string{v.From.Node}
	}
	var nodes []string
	for _, item := range v.Tuple {
		nodes = append(nodes, item.References()...)
	}
	return nodes
}

// Resolve replaces output references with the upstream results.
func (v Value) Resolve(results map[string]Value) (Value, error) {
	if v.From != nil {
		result, ok := results[v.From.Node]
		if !ok {
			return Value{}, fmt.Errorf("no result for node %s", v.From.Node)
		}
		if v.From.Index == nil {
			return result, nil
		}
		i := *v.From.Index
		if i < 0 || i >= len(result.Tuple) {
			return Value{}, fmt.Errorf("node %s has no result at index %d", v.From.Node, i)
		}
		return result.Tuple[i], nil
	}

	if v.Tuple == nil {
		return v, nil
	}
	resolved := make([]Value, len(v.Tuple))
	for i, item := range v.Tuple {
		r, err := item.Resolve(results)
		if err != nil {
			return Value{}, err
		}
		resolved[i] = r
	}
	return Value{Tuple: resolved}, nil
}

// Decode rebuilds the runtime value, opening artifact handles on the
// backends of registry. Output references must be resolved first.
func (v Value) Decode(registry *artifacts.Registry) (any, error) {
	switch {
	case v.From != nil:
		return nil, fmt.Errorf("unresolved reference to node %s", v.From.Node)
	case v.Artifact != nil:
		return registry.Open(*v.Artifact)
	case v.Tuple != nil:
		tuple := make(task.Tuple, len(v.Tuple))
		for i, item := range v.Tuple {
			decoded, err := item.Decode(registry)
			if err != nil {
				return nil, err
			}
			tuple[i] = decoded
		}
		return tuple, nil
	default:
		return v.Literal, nil
	}
}

// Encode converts a task result into its serializable form.
func Encode(result any) Value {
	switch r := result.(type) {
	case nil:
		return Value{}
	case *artifacts.Artifact:
		if r == nil {
			return Value{}
		}
		return ArtifactValue(r)
	case task.Tuple:
		return encodeSlice(r)
	case []any:
		return encodeSlice(r)
	case []*artifacts.Artifact:
		items := make([]Value, len(r))
		for i, a := range r {
			items[i] = Encode(a)
		}
		return Value{Tuple: items}
	default:
		return Literal(r)
	}
}

func encodeSlice(items []any) Value {
	values := make([]Value, len(items))
	for i, item := range items {
		values[i] = Encode(item)
	}
	return Value{Tuple: values}
}
