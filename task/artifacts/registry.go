package artifacts

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Registry resolves backend names to backends so that artifact references
// can cross process boundaries.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry creates a registry holding the given backends.
func NewRegistry(backends ...Backend) *Registry {
	r := &Registry{backends: make(map[string]Backend, len(backends))}
	for _, b := range backends {
		r.Register(b)
	}
	return r
}

// Register adds or replaces a backend.
func (r *Registry) Register(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[b.Name()] = b
}

// Get returns the backend registered under name.
func (r *Registry) Get(name string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[name]
	return b, ok
}

// Names returns the registered backend names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names()
}

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open rebuilds a handle from its reference. Transient state starts empty;
// metadata carried by the reference is trusted until the next explicit fetch.
func (r *Registry) Open(ref Ref) (*Artifact, error) {
	b, ok := r.Get(ref.Backend)
	if !ok {
		return nil, fmt.Errorf("unknown artifact backend: %s", ref.Backend)
	}

	a := New(b, ref.Filename, ref.Path, ref.Temporary)
	a.ID = ref.ID
	if ref.Metadata != nil {
		a.Metadata = ref.Metadata.Clone()
		a.loaded = a.Persisted()
	}
	return a, nil
}

// Close closes every registered backend and reports all failures.
func (r *Registry) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs *multierror.Error
	for _, name := range r.names() {
		if err := r.backends[name].Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to close backend %s: %w", name, err))
		}
	}
	return errs.ErrorOrNil()
}
