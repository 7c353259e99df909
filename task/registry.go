package task

import (
	"fmt"
	"slices"
	"sync"
)

// Factory creates a fresh task instance for one invocation.
type Factory func() Task

type registryEntry struct {
	factory Factory
	options []Option
}

// Registry maps task names to factories and their default options.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
}

// NewRegistry creates an empty task registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

// Register adds a task under name. Registering the same name twice replaces
// the previous entry.
func (r *Registry) Register(name string, factory Factory, opts ...Option) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = registryEntry{factory: factory, options: opts}
}

// New instantiates the task registered under name together with its options.
// extra options are applied after the registered ones.
func (r *Registry) New(name string, extra ...Option) (Task, Options, error) {
	r.mu.RLock()
	entry, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, Options{}, fmt.Errorf("task %q is not registered", name)
	}

	opts, err := NewOptions(append(slices.Clone(entry.options), extra...)...)
	if err != nil {
		return nil, Options{}, fmt.Errorf("invalid options for task %q: %w", name, err)
	}
	return entry.factory(), opts, nil
}

// Names returns the registered task names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.entries)
}
