package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// memoryBackend is a remote-kind backend that keeps everything in memory and
// records the order of calls.
type memoryBackend struct {
	mu         sync.Mutex
	name       string
	cacheDir   string
	calls      []string
	failUpload error
	failFetch  error
	failDelete error
	closeErr   error
	objects    map[string][]byte
	metadata   map[string]Metadata
	nextID     int
}

func newMemoryBackend(cacheDir string) *memoryBackend {
	return &memoryBackend{
		name:     "memory",
		cacheDir: cacheDir,
		objects:  make(map[string][]byte),
		metadata: make(map[string]Metadata),
	}
}

func (m *memoryBackend) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *memoryBackend) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *memoryBackend) Name() string      { return m.name }
func (m *memoryBackend) Kind() BackendKind { return BackendRemote }
func (m *memoryBackend) Close() error      { return m.closeErr }

func (m *memoryBackend) LocalPath(a *Artifact) string {
	return filepath.Join(m.cacheDir, filepath.FromSlash(a.Path), a.Filename)
}

func (m *memoryBackend) Find(ctx context.Context, filename, path string, filter Metadata) (*Artifact, error) {
	m.record("find")
	for id, md := range m.metadata {
		base := md[BaseFamily]
		if base.String("filename") != filename || base.String("path") != path || !md.Matches(filter) {
			continue
		}
		a := New(m, filename, path, false)
		a.ID = id
		a.Metadata = md.Clone()
		a.loaded = true
		return a, nil
	}
	return nil, nil
}

func (m *memoryBackend) Retrieve(ctx context.Context, id string) (*Artifact, error) {
	m.record("retrieve")
	md, ok := m.metadata[id]
	if !ok {
		return nil, nil
	}
	base := md[BaseFamily]
	a := New(m, base.String("filename"), base.String("path"), false)
	a.ID = id
	a.Metadata = md.Clone()
	a.loaded = true
	return a, nil
}

func (m *memoryBackend) FetchData(ctx context.Context, a *Artifact, dest string) error {
	m.record("fetch_data")
	if m.failFetch != nil {
		return m.failFetch
	}
	data, ok := m.objects[a.ID]
	if !ok {
		return ErrNotFound
	}
	return os.WriteFile(dest, data, 0o644)
}

func (m *memoryBackend) FetchMetadata(ctx context.Context, a *Artifact) (Metadata, error) {
	m.record("fetch_metadata")
	md, ok := m.metadata[a.ID]
	if !ok {
		return nil, ErrNotFound
	}
	return md.Clone(), nil
}

func (m *memoryBackend) UploadData(ctx context.Context, a *Artifact, src string) (string, Family, error) {
	m.record("upload_data")
	if m.failUpload != nil {
		return "", nil, m.failUpload
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return "", nil, err
	}
	size, sum, err := FileChecksum(src)
	if err != nil {
		return "", nil, err
	}

	m.nextID++
	id := fmt.Sprintf("%d", m.nextID)
	m.objects[id] = data
	base := Family{"id": id, "filename": a.Filename, "path": a.Path, "size": size, "checksum": sum}
	m.metadata[id] = Metadata{BaseFamily: base}
	return id, base.Clone(), nil
}

func (m *memoryBackend) UpdateMetadata(ctx context.Context, a *Artifact, md Metadata) (Metadata, error) {
	m.record("update_metadata")
	current, ok := m.metadata[a.ID]
	if !ok {
		return nil, ErrNotFound
	}
	current.Merge(md)
	return current.Clone(), nil
}

func (m *memoryBackend) Delete(ctx context.Context, a *Artifact) error {
	m.record("delete")
	if m.failDelete != nil {
		return m.failDelete
	}
	delete(m.objects, a.ID)
	delete(m.metadata, a.ID)
	return nil
}
