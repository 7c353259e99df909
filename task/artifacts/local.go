package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// temporaryIDPrefix marks ids of artifacts living under the temporary root.
	temporaryIDPrefix = "tmp:"

	sidecarSuffix = ".meta.yaml"
)

// LocalStore implements Backend using the local filesystem.
//
// Artifact bytes are plain files under BasePath (or TempPath for temporary
// artifacts). Metadata families are kept in a YAML sidecar next to each file;
// the base family is always synthesized from the filesystem.
type LocalStore struct {
	// BackendName is the registry name of the store
	BackendName string

	// BasePath is the root directory for durable artifacts
	BasePath string

	// TempPath is the root directory for temporary artifacts
	TempPath string
}

// NewLocalStore creates a new local store. An empty tempPath places temporary
// artifacts under basePath/.tmp.
func NewLocalStore(name, basePath, tempPath string) (*LocalStore, error) {
	if name == "" {
		name = string(BackendLocal)
	}
	if tempPath == "" {
		tempPath = filepath.Join(basePath, ".tmp")
	}

	for _, dir := range []string{basePath, tempPath} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", err)
		}
	}

	return &LocalStore{
		BackendName: name,
		BasePath:    basePath,
		TempPath:    tempPath,
	}, nil
}

// Name implements Backend.
func (s *LocalStore) Name() string {
	return s.BackendName
}

// Kind implements Backend.
func (s *LocalStore) Kind() BackendKind {
	return BackendLocal
}

// Open returns a bare handle for a file under the durable root.
func (s *LocalStore) Open(filename, path string) *Artifact {
	return New(s, filename, path, false)
}

// LocalPath implements Backend.
func (s *LocalStore) LocalPath(a *Artifact) string {
	root := s.BasePath
	if a.Temporary {
		root = s.TempPath
	}
	return filepath.Join(root, filepath.FromSlash(a.Path), a.Filename)
}

// Find implements Backend. Durable files take precedence over temporary ones.
func (s *LocalStore) Find(ctx context.Context, filename, path string, filter Metadata) (*Artifact, error) {
	for _, temporary := range []bool{false, true} {
		a := New(s, filename, path, temporary)
		if !fileExists(a.LocalPath()) {
			continue
		}
		a.ID = s.idFor(a)
		if _, err := a.ReadMetadata(ctx); err != nil {
			return nil, err
		}
		if !a.Metadata.Matches(filter) {
			continue
		}
		return a, nil
	}
	return nil, nil
}

// Retrieve implements Backend. Ids are slash paths relative to the root.
func (s *LocalStore) Retrieve(ctx context.Context, id string) (*Artifact, error) {
	rel, temporary := strings.CutPrefix(id, temporaryIDPrefix)
	if rel == "" || strings.Contains(rel, "..") {
		return nil, rejected(s.BackendName, "retrieve", fmt.Errorf("invalid id %q", id))
	}

	dir, file := filepath.Split(filepath.FromSlash(rel))
	a := New(s, file, filepath.ToSlash(filepath.Clean(dir)), temporary)
	if a.Path == "." {
		a.Path = ""
	}
	if !fileExists(a.LocalPath()) {
		return nil, nil
	}
	a.ID = id
	if _, err := a.ReadMetadata(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// FetchData implements Backend.
func (s *LocalStore) FetchData(ctx context.Context, a *Artifact, dest string) error {
	src := s.LocalPath(a)
	if src == dest {
		if !fileExists(src) {
			return ErrNotFound
		}
		return nil
	}
	if err := copyFile(src, dest); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return unavailable(s.BackendName, "fetch data", err)
	}
	return nil
}

// FetchMetadata implements Backend.
func (s *LocalStore) FetchMetadata(ctx context.Context, a *Artifact) (Metadata, error) {
	md, err := s.readSidecar(a)
	if err != nil {
		return nil, err
	}

	base := Family{
		"filename": a.Filename,
		"path":     a.Path,
	}
	if path := s.LocalPath(a); fileExists(path) {
		size, sum, err := FileChecksum(path)
		if err != nil {
			return nil, unavailable(s.BackendName, "checksum", err)
		}
		base["id"] = s.idFor(a)
		base["size"] = size
		base["checksum"] = sum
	}
	md[BaseFamily] = base
	return md, nil
}

// UploadData implements Backend. The file already lives in the store, so
// uploading only copies it into place when src is elsewhere.
func (s *LocalStore) UploadData(ctx context.Context, a *Artifact, src string) (string, Family, error) {
	dest := s.LocalPath(a)
	if src != dest {
		if err := copyFile(src, dest); err != nil {
			return "", nil, unavailable(s.BackendName, "upload data", err)
		}
	}

	size, sum, err := FileChecksum(dest)
	if err != nil {
		return "", nil, rejected(s.BackendName, "upload data", err)
	}

	id := s.idFor(a)
	return id, Family{
		"id":       id,
		"filename": a.Filename,
		"path":     a.Path,
		"size":     size,
		"checksum": sum,
	}, nil
}

// UpdateMetadata implements Backend.
func (s *LocalStore) UpdateMetadata(ctx context.Context, a *Artifact, m Metadata) (Metadata, error) {
	current, err := s.readSidecar(a)
	if err != nil {
		return nil, err
	}

	update := m.Clone()
	delete(update, BaseFamily)
	current.Merge(update)

	if err := s.writeSidecar(a, current); err != nil {
		return nil, err
	}
	return s.FetchMetadata(ctx, a)
}

// Delete implements Backend.
func (s *LocalStore) Delete(ctx context.Context, a *Artifact) error {
	for _, path := range []string{s.LocalPath(a), s.sidecarPath(a)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return unavailable(s.BackendName, "delete", err)
		}
	}
	return nil
}

// Close cleans up resources (no-op for local store).
func (s *LocalStore) Close() error {
	return nil
}

func (s *LocalStore) idFor(a *Artifact) string {
	id := joinPath(a.Path, a.Filename)
	if a.Temporary {
		return temporaryIDPrefix + id
	}
	return id
}

func (s *LocalStore) sidecarPath(a *Artifact) string {
	dir := filepath.Dir(s.LocalPath(a))
	return filepath.Join(dir, "."+a.Filename+sidecarSuffix)
}

func (s *LocalStore) readSidecar(a *Artifact) (Metadata, error) {
	data, err := os.ReadFile(s.sidecarPath(a))
	if err != nil {
		if os.IsNotExist(err) {
			return Metadata{}, nil
		}
		return nil, unavailable(s.BackendName, "read metadata", err)
	}

	md := Metadata{}
	if err := yaml.Unmarshal(data, &md); err != nil {
		return nil, rejected(s.BackendName, "read metadata", fmt.Errorf("malformed sidecar: %w", err))
	}
	return md, nil
}

func (s *LocalStore) writeSidecar(a *Artifact, md Metadata) error {
	data, err := yaml.Marshal(md)
	if err != nil {
		return rejected(s.BackendName, "write metadata", fmt.Errorf("failed to encode metadata: %w", err))
	}

	path := s.sidecarPath(a)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return unavailable(s.BackendName, "write metadata", err)
	}
	if err := writeAtomically(path, bytes.NewReader(data)); err != nil {
		return unavailable(s.BackendName, "write metadata", err)
	}
	return nil
}
