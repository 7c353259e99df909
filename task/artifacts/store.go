package artifacts

import (
	"context"
	"errors"
	"fmt"
)

// BackendKind distinguishes local filesystem backends from remote stores.
type BackendKind string

const (
	// BackendLocal stores artifacts as plain files on local disk.
	BackendLocal BackendKind = "local"
	// BackendRemote stores artifacts in a remote content/metadata store.
	BackendRemote BackendKind = "remote"
)

// Backend is the storage boundary behind an Artifact handle.
// Implementations include LocalStore for the local filesystem
// and S3Store for S3-compatible object storage.
//
// Find and Retrieve return (nil, nil) when nothing matches.
type Backend interface {
	// Name identifies the backend inside a Registry.
	Name() string

	// Kind reports whether the backend is local or remote.
	Kind() BackendKind

	// Find locates the most recent non-deleted artifact with the given
	// filename and path whose metadata is a superset of filter.
	Find(ctx context.Context, filename, path string, filter Metadata) (*Artifact, error)

	// Retrieve fetches one artifact by backend id. Artifacts that are not
	// ready or temporary are refused.
	Retrieve(ctx context.Context, id string) (*Artifact, error)

	// FetchData copies the artifact content to dest.
	FetchData(ctx context.Context, a *Artifact, dest string) error

	// FetchMetadata returns the metadata families recorded for the artifact.
	FetchMetadata(ctx context.Context, a *Artifact) (Metadata, error)

	// UploadData stores the content at src and returns the new id together
	// with the server-owned base fields.
	UploadData(ctx context.Context, a *Artifact, src string) (string, Family, error)

	// UpdateMetadata merges m into the recorded metadata and returns the result.
	UpdateMetadata(ctx context.Context, a *Artifact, m Metadata) (Metadata, error)

	// Delete removes the artifact from the backend.
	Delete(ctx context.Context, a *Artifact) error

	// LocalPath is where the artifact bytes live (or will be cached) on local disk.
	LocalPath(a *Artifact) string

	// Close cleans up any resources used by the backend.
	Close() error
}

// ErrorKind classifies storage failures.
type ErrorKind string

const (
	// ErrorKindUnavailable indicates the backend could not be reached or failed transiently.
	ErrorKindUnavailable ErrorKind = "unavailable"

	// ErrorKindRejected indicates the backend refused the request.
	ErrorKindRejected ErrorKind = "rejected"
)

// BackendError is returned by backends for storage I/O failures.
type BackendError struct {
	Kind    ErrorKind
	Backend string
	Op      string
	Err     error
}

// Error implements error interface.
func (e *BackendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s %s: %v", e.Kind, e.Backend, e.Op, e.Err)
	}
	return fmt.Sprintf("[%s] %s %s", e.Kind, e.Backend, e.Op)
}

// Unwrap returns the wrapped error.
func (e *BackendError) Unwrap() error {
	return e.Err
}

// Is matches predefined backend errors by kind.
func (e *BackendError) Is(target error) bool {
	t, ok := target.(*BackendError)
	if !ok {
		return false
	}
	return t.Backend == "" && t.Op == "" && t.Kind == e.Kind
}

// Predefined errors
var (
	// ErrBackendUnavailable matches any BackendError of kind unavailable.
	ErrBackendUnavailable = &BackendError{Kind: ErrorKindUnavailable}

	// ErrBackendRejected matches any BackendError of kind rejected.
	ErrBackendRejected = &BackendError{Kind: ErrorKindRejected}

	// ErrNoBackend indicates a handle that is not attached to any backend.
	ErrNoBackend = errors.New("artifact has no backend")

	// ErrNotFound indicates that the backend holds no entry for the artifact.
	ErrNotFound = errors.New("artifact not found")
)

func unavailable(backend, op string, err error) error {
	return &BackendError{Kind: ErrorKindUnavailable, Backend: backend, Op: op, Err: err}
}

func rejected(backend, op string, err error) error {
	return &BackendError{Kind: ErrorKindRejected, Backend: backend, Op: op, Err: err}
}
