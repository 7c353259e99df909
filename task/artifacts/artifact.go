package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// Artifact is a handle to one data object plus its metadata.
//
// ID, BackendName, Path, Filename, Temporary and Metadata are stable and
// survive a round trip through Ref. The backend reference, the local cache
// path and the loaded flag are transient and rebuilt lazily.
type Artifact struct {
	// ID is empty until the artifact is persisted; afterwards it never changes.
	ID string

	// BackendName is the registry name of the backend.
	BackendName string

	// Path is the logical directory of the artifact.
	Path string

	// Filename is the artifact file name.
	Filename string

	// Temporary artifacts may be garbage-collected by the backend.
	Temporary bool

	// Metadata holds the families of the artifact. Mutating it never persists anything.
	Metadata Metadata

	store     Backend
	localPath string
	loaded    bool
}

// Ref is the serializable identity of an artifact.
type Ref struct {
	ID        string   `json:"id,omitempty" yaml:"id,omitempty"`
	Backend   string   `json:"backend" yaml:"backend" validate:"required"`
	Path      string   `json:"path,omitempty" yaml:"path,omitempty"`
	Filename  string   `json:"filename" yaml:"filename" validate:"required"`
	Temporary bool     `json:"temporary,omitempty" yaml:"temporary,omitempty"`
	Metadata  Metadata `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// ChildOptions configures DeriveChild.
type ChildOptions struct {
	// Filename replaces the derived filename entirely.
	Filename string

	// Path replaces the parent path.
	Path string

	// Suffix is inserted before the extension of the parent filename.
	Suffix string

	// Extension replaces the extension, with or without a leading dot.
	Extension string

	// Temporary marks the child as temporary.
	Temporary bool

	// JournalFamily is the provenance family whose status is not inherited.
	// Defaults to DefaultJournalFamily.
	JournalFamily string
}

// New creates a bare, not yet persisted artifact on the given backend.
func New(store Backend, filename, path string, temporary bool) *Artifact {
	a := &Artifact{
		Path:      path,
		Filename:  filename,
		Temporary: temporary,
		Metadata:  Metadata{},
		store:     store,
	}
	if store != nil {
		a.BackendName = store.Name()
	}
	return a
}

// Backend returns the backend the handle is attached to.
func (a *Artifact) Backend() Backend {
	return a.store
}

// Persisted reports whether the artifact has been durably stored.
func (a *Artifact) Persisted() bool {
	return a.ID != ""
}

// Family returns the named metadata family, creating an empty one if absent.
func (a *Artifact) Family(name string) Family {
	if a.Metadata == nil {
		a.Metadata = Metadata{}
	}
	fam, ok := a.Metadata[name]
	if !ok || fam == nil {
		fam = Family{}
		a.Metadata[name] = fam
	}
	return fam
}

// LocalPath returns the local cache path without fetching anything.
func (a *Artifact) LocalPath() string {
	if a.localPath == "" && a.store != nil {
		a.localPath = a.store.LocalPath(a)
	}
	return a.localPath
}

// Materialize returns a local path holding the artifact bytes.
//
// Remote artifacts are fetched when there is no local copy or when the local
// copy disagrees with the size and checksum recorded in the base family.
// For artifacts that are about to be written the parent directory is created.
func (a *Artifact) Materialize(ctx context.Context) (string, error) {
	if a.store == nil {
		return "", ErrNoBackend
	}
	path := a.LocalPath()

	if a.store.Kind() == BackendRemote && a.Persisted() {
		md, err := a.ReadMetadata(ctx)
		if err != nil {
			return "", err
		}
		if fileExists(path) {
			if cacheIsValid(path, md[BaseFamily]) {
				return path, nil
			}
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return "", fmt.Errorf("failed to discard stale cache %s: %w", path, err)
			}
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", fmt.Errorf("failed to create cache directory: %w", err)
		}
		if err := a.store.FetchData(ctx, a, path); err != nil {
			return "", err
		}
		return path, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	return path, nil
}

// ReadMetadata returns the artifact metadata, fetching it from the backend
// the first time it is needed. In-memory changes take precedence over the
// fetched values.
func (a *Artifact) ReadMetadata(ctx context.Context) (Metadata, error) {
	if a.loaded || a.store == nil || !a.Persisted() {
		if a.Metadata == nil {
			a.Metadata = Metadata{}
		}
		return a.Metadata, nil
	}

	fetched, err := a.store.FetchMetadata(ctx, a)
	if err != nil {
		return nil, err
	}
	merged := fetched.Clone()
	merged.Merge(a.Metadata)
	a.Metadata = merged
	a.loaded = true
	return a.Metadata, nil
}

// Persist uploads the data, then the metadata. Both steps are idempotent:
// data is only uploaded while the artifact has no id.
func (a *Artifact) Persist(ctx context.Context) error {
	if a.store == nil {
		return ErrNoBackend
	}

	if !a.Persisted() {
		id, base, err := a.store.UploadData(ctx, a, a.LocalPath())
		if err != nil {
			return err
		}
		a.ID = id
		fam := a.Family(BaseFamily)
		for k, v := range base {
			fam[k] = v
		}
	}

	updated, err := a.store.UpdateMetadata(ctx, a, a.Metadata.forUpload())
	if err != nil {
		return err
	}
	merged := a.Metadata.Clone()
	merged.Merge(updated)
	a.Metadata = merged
	a.loaded = true
	return nil
}

// Delete removes the local copy and the backend entry, clears the metadata
// and resets the id. It is safe on artifacts that were never persisted.
func (a *Artifact) Delete(ctx context.Context) error {
	var errs *multierror.Error

	if path := a.LocalPath(); path != "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = multierror.Append(errs, fmt.Errorf("failed to remove local file: %w", err))
		}
	}

	if a.Persisted() && a.store != nil {
		if err := a.store.Delete(ctx, a); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		return err
	}

	a.Metadata = Metadata{}
	a.ID = ""
	a.loaded = false
	return nil
}

// Clean removes the local cached copy of a persisted remote artifact.
// Local artifacts are left alone since their file is the artifact itself.
func (a *Artifact) Clean() error {
	if a.store == nil || a.store.Kind() != BackendRemote || !a.Persisted() {
		return nil
	}
	if err := os.Remove(a.LocalPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clean local copy: %w", err)
	}
	return nil
}

// DeriveChild builds the handle of an artifact produced from a.
//
// If an artifact with the computed filename and path already exists on the
// backend it is returned as is. Otherwise a bare handle is returned, carrying
// a copy of the parent metadata without the base family and without the
// journal status, problem and parents.
func (a *Artifact) DeriveChild(ctx context.Context, opts ChildOptions) (*Artifact, error) {
	if a.store == nil {
		return nil, ErrNoBackend
	}

	filename := opts.Filename
	if filename == "" {
		filename = childFilename(a.Filename, opts.Suffix, opts.Extension)
	}
	path := opts.Path
	if path == "" {
		path = a.Path
	}

	existing, err := a.store.Find(ctx, filename, path, nil)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	journal := opts.JournalFamily
	if journal == "" {
		journal = DefaultJournalFamily
	}

	md := a.Metadata.Clone()
	delete(md, BaseFamily)
	if fam, ok := md[journal]; ok {
		delete(fam, "status")
		delete(fam, "problem")
		delete(fam, "parents")
	}

	child := New(a.store, filename, path, opts.Temporary)
	child.Metadata = md
	return child, nil
}

// Equal reports whether both handles point to the same persisted artifact.
// Artifacts that are not persisted are never equal; compare pointers instead.
func (a *Artifact) Equal(other *Artifact) bool {
	if a == nil || other == nil || !a.Persisted() || !other.Persisted() {
		return false
	}
	return a.BackendName == other.BackendName && a.ID == other.ID
}

// Ref returns the serializable identity of the artifact.
func (a *Artifact) Ref() Ref {
	return Ref{
		ID:        a.ID,
		Backend:   a.BackendName,
		Path:      a.Path,
		Filename:  a.Filename,
		Temporary: a.Temporary,
		Metadata:  a.Metadata.Clone(),
	}
}

// String implements fmt.Stringer.
func (a *Artifact) String() string {
	id := a.ID
	if id == "" {
		id = "<unsaved>"
	}
	return fmt.Sprintf("%s:%s (%s)", a.BackendName, joinPath(a.Path, a.Filename), id)
}

// childFilename inserts suffix before the extension and optionally swaps the extension.
func childFilename(parent, suffix, extension string) string {
	ext := filepath.Ext(parent)
	stem := strings.TrimSuffix(parent, ext)
	if extension != "" {
		ext = extension
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
	}
	return stem + suffix + ext
}

func joinPath(path, filename string) string {
	if path == "" {
		return filename
	}
	return strings.TrimSuffix(path, "/") + "/" + filename
}
