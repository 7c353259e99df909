// Package artifactstest provides an in-memory remote backend for tests.
package artifactstest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jasoet/go-iguazu/task/artifacts"
)

// MemoryBackend is a remote-kind backend that keeps objects and metadata in
// memory, caches bytes under a local directory and records every call.
type MemoryBackend struct {
	// FailUpload, FailFetch and FailDelete are returned by the matching calls when set.
	FailUpload error
	FailFetch  error
	FailDelete error

	// FailFetchMetadata, when set, is consulted by FetchMetadata with the
	// artifact id; a non-nil return is the call's error.
	FailFetchMetadata func(id string) error

	mu       sync.Mutex
	name     string
	cacheDir string
	calls    []string
	objects  map[string][]byte
	metadata map[string]artifacts.Metadata
	order    []string
	nextID   int
}

// NewMemoryBackend creates an empty backend caching bytes under cacheDir.
func NewMemoryBackend(name, cacheDir string) *MemoryBackend {
	return &MemoryBackend{
		name:     name,
		cacheDir: cacheDir,
		objects:  make(map[string][]byte),
		metadata: make(map[string]artifacts.Metadata),
	}
}

// Seed stores an artifact with a chosen id and returns a handle to it.
func (m *MemoryBackend) Seed(id, filename, path string, data []byte, md artifacts.Metadata) *artifacts.Artifact {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := md.Clone()
	stored[artifacts.BaseFamily] = artifacts.Family{
		"id": id, "filename": filename, "path": path, "size": int64(len(data)),
	}
	m.objects[id] = append([]byte(nil), data...)
	m.metadata[id] = stored
	m.order = append(m.order, id)

	return m.handle(id)
}

// Calls returns the recorded call names in order.
func (m *MemoryBackend) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Count returns how many times call was recorded.
func (m *MemoryBackend) Count(call string) int {
	n := 0
	for _, c := range m.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

// Stored returns a copy of the metadata recorded for id.
func (m *MemoryBackend) Stored(id string) (artifacts.Metadata, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	md, ok := m.metadata[id]
	return md.Clone(), ok
}

// Len returns the number of stored artifacts.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.metadata)
}

func (m *MemoryBackend) record(call string) {
	m.calls = append(m.calls, call)
}

func (m *MemoryBackend) handle(id string) *artifacts.Artifact {
	md := m.metadata[id]
	base := md[artifacts.BaseFamily]
	a := artifacts.New(m, base.String("filename"), base.String("path"), false)
	a.ID = id
	a.Metadata = md.Clone()
	return a
}

func (m *MemoryBackend) Name() string                 { return m.name }
func (m *MemoryBackend) Kind() artifacts.BackendKind { return artifacts.BackendRemote }
func (m *MemoryBackend) Close() error                 { return nil }

func (m *MemoryBackend) LocalPath(a *artifacts.Artifact) string {
	return filepath.Join(m.cacheDir, filepath.FromSlash(a.Path), a.Filename)
}

func (m *MemoryBackend) Find(ctx context.Context, filename, path string, filter artifacts.Metadata) (*artifacts.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("find")

	for i := len(m.order) - 1; i >= 0; i-- {
		id := m.order[i]
		md, ok := m.metadata[id]
		if !ok {
			continue
		}
		base := md[artifacts.BaseFamily]
		if base.String("filename") != filename || base.String("path") != path || !md.Matches(filter) {
			continue
		}
		return m.handle(id), nil
	}
	return nil, nil
}

func (m *MemoryBackend) Retrieve(ctx context.Context, id string) (*artifacts.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("retrieve")

	if _, ok := m.metadata[id]; !ok {
		return nil, nil
	}
	return m.handle(id), nil
}

func (m *MemoryBackend) FetchData(ctx context.Context, a *artifacts.Artifact, dest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("fetch_data")

	if m.FailFetch != nil {
		return m.FailFetch
	}
	data, ok := m.objects[a.ID]
	if !ok {
		return artifacts.ErrNotFound
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0o644)
}

func (m *MemoryBackend) FetchMetadata(ctx context.Context, a *artifacts.Artifact) (artifacts.Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("fetch_metadata")

	if m.FailFetchMetadata != nil {
		if err := m.FailFetchMetadata(a.ID); err != nil {
			return nil, err
		}
	}
	md, ok := m.metadata[a.ID]
	if !ok {
		return nil, artifacts.ErrNotFound
	}
	return md.Clone(), nil
}

func (m *MemoryBackend) UploadData(ctx context.Context, a *artifacts.Artifact, src string) (string, artifacts.Family, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("upload_data")

	if m.FailUpload != nil {
		return "", nil, m.FailUpload
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return "", nil, err
	}
	size, sum, err := artifacts.FileChecksum(src)
	if err != nil {
		return "", nil, err
	}

	m.nextID++
	id := fmt.Sprintf("%s-%d", m.name, m.nextID)
	base := artifacts.Family{"id": id, "filename": a.Filename, "path": a.Path, "size": size, "checksum": sum}
	m.objects[id] = data
	m.metadata[id] = artifacts.Metadata{artifacts.BaseFamily: base}
	m.order = append(m.order, id)
	return id, base.Clone(), nil
}

func (m *MemoryBackend) UpdateMetadata(ctx context.Context, a *artifacts.Artifact, md artifacts.Metadata) (artifacts.Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("update_metadata")

	current, ok := m.metadata[a.ID]
	if !ok {
		return nil, artifacts.ErrNotFound
	}
	current.Merge(md)
	return current.Clone(), nil
}

func (m *MemoryBackend) Delete(ctx context.Context, a *artifacts.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("delete")

	if m.FailDelete != nil {
		return m.FailDelete
	}
	delete(m.objects, a.ID)
	delete(m.metadata, a.ID)
	return nil
}
