package task

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jasoet/go-iguazu/task/artifacts"
	"github.com/jasoet/go-iguazu/task/table"
)

// Inputs are the keyword arguments of a task: literal values and artifact handles.
type Inputs map[string]any

// Tuple is a multi-value task result. Only artifact members are finalized.
type Tuple []any

// Clone returns a shallow copy so managed inputs can be replaced without
// touching the caller's map.
func (in Inputs) Clone() Inputs {
	out := make(Inputs, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Artifact returns the artifact handle stored under name, if any.
func (in Inputs) Artifact(name string) (*artifacts.Artifact, bool) {
	a, ok := in[name].(*artifacts.Artifact)
	return a, ok && a != nil
}

// Table returns the decoded managed input stored under name, if any.
func (in Inputs) Table(name string) (*table.Table, bool) {
	t, ok := in[name].(*table.Table)
	return t, ok && t != nil
}

type originalInputsKey struct{}

// OriginalInputs returns the inputs of the running task as the caller passed
// them, before managed inputs were decoded. Use it in Run to derive outputs
// from a managed input.
func OriginalInputs(ctx context.Context) (Inputs, bool) {
	in, ok := ctx.Value(originalInputsKey{}).(Inputs)
	return in, ok
}

func withOriginalInputs(ctx context.Context, in Inputs) context.Context {
	return context.WithValue(ctx, originalInputsKey{}, in)
}

// Artifacts flattens v into the artifact handles it contains. Nil handles are skipped.
func Artifacts(v any) []*artifacts.Artifact {
	var out []*artifacts.Artifact
	collectArtifacts(v, &out)
	return out
}

func collectArtifacts(v any, out *[]*artifacts.Artifact) {
	switch val := v.(type) {
	case *artifacts.Artifact:
		if val != nil {
			*out = append(*out, val)
		}
	case []*artifacts.Artifact:
		for _, a := range val {
			collectArtifacts(a, out)
		}
	case Tuple:
		for _, item := range val {
			collectArtifacts(item, out)
		}
	case []any:
		for _, item := range val {
			collectArtifacts(item, out)
		}
	case Inputs:
		for _, item := range val {
			collectArtifacts(item, out)
		}
	case map[string]any:
		for _, item := range val {
			collectArtifacts(item, out)
		}
	}
}

// parentIDs returns the ids of every persisted artifact among inputs,
// in a stable order.
func parentIDs(in Inputs) []string {
	seen := make(map[string]bool)
	ids := []string{}
	for _, name := range sortedKeys(in) {
		for _, a := range Artifacts(in[name]) {
			if a.ID == "" || seen[a.ID] {
				continue
			}
			seen[a.ID] = true
			ids = append(ids, a.ID)
		}
	}
	return ids
}

// materializeInputs replaces every registered managed input holding an
// artifact with the table decoded from it.
func (m *Managed) materializeInputs(ctx context.Context, in Inputs) error {
	for _, param := range sortedKeys(m.opts.ManagedInputs) {
		managed := m.opts.ManagedInputs[param]
		a, ok := in.Artifact(param)
		if !ok {
			continue
		}

		path, err := a.Materialize(ctx)
		if err != nil {
			return fmt.Errorf("failed to materialize managed input %s: %w", param, err)
		}

		info, err := os.Stat(path)
		if errors.Is(err, os.ErrNotExist) {
			if inputErr := m.managedInputError(param, fmt.Sprintf("file of %s does not exist", a)); inputErr != nil {
				return inputErr
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to stat managed input %s: %w", param, err)
		}

		if info.Size() == 0 {
			m.logger.Debug("Managed input is empty", "param", param, "artifact", a.String())
			in[param] = table.Empty()
			continue
		}

		t, err := table.ReadFile(path, managed.Key, managed.Read)
		if err != nil {
			if isDecodeError(err) {
				if inputErr := m.managedInputError(param, err.Error()); inputErr != nil {
					return inputErr
				}
				continue
			}
			return fmt.Errorf("failed to read managed input %s: %w", param, err)
		}
		in[param] = t
	}
	return nil
}

// managedInputError returns the configured error, or logs and returns nil
// when no kind is configured.
func (m *Managed) managedInputError(param, title string) error {
	kind := m.opts.ManagedInputsErrorKind
	if kind == "" {
		m.logger.Warn("Managed input unavailable, passing artifact through", "param", param, "reason", title)
		return nil
	}
	return &TaskError{Type: kind, Title: fmt.Sprintf("managed input %s: %s", param, title)}
}

func isDecodeError(err error) bool {
	return errors.Is(err, table.ErrKeyNotFound) ||
		errors.Is(err, table.ErrNotTable) ||
		errors.Is(err, table.ErrColumnNotFound) ||
		errors.Is(err, table.ErrUnsupportedFormat)
}
