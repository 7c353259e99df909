package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/jasoet/go-iguazu/task/artifacts"
	"go.temporal.io/sdk/temporal"
)

// ErrorKind is the qualified name of a failure category. It is written into
// the journal as problem.type.
type ErrorKind string

const (
	// KindPreconditionFailed is a soft, expected precondition violation.
	KindPreconditionFailed ErrorKind = "iguazu.PreconditionFailed"

	// KindSoftPreconditionFailed is raised when an upstream input carries a FAILED journal.
	KindSoftPreconditionFailed ErrorKind = "iguazu.SoftPreconditionFailed"

	// KindPreviousResultsExist is raised when the default output was already produced.
	KindPreviousResultsExist ErrorKind = "iguazu.PreviousResultsExist"

	// KindGracefulFailWithPartialResults is a task-declared partial success.
	KindGracefulFailWithPartialResults ErrorKind = "iguazu.GracefulFailWithPartialResults"

	// KindPostconditionFailed is a contract violation on the task result.
	KindPostconditionFailed ErrorKind = "iguazu.PostconditionFailed"

	// KindBackendUnavailable is a transient storage failure.
	KindBackendUnavailable ErrorKind = "iguazu.BackendUnavailable"

	// KindBackendRejected is a storage request refused by the backend.
	KindBackendRejected ErrorKind = "iguazu.BackendRejected"

	// KindUnclassified covers every other error.
	KindUnclassified ErrorKind = "iguazu.Unclassified"
)

var kindParents = map[ErrorKind]ErrorKind{
	KindSoftPreconditionFailed: KindPreconditionFailed,
	KindPreviousResultsExist:   KindPreconditionFailed,
}

// Is reports whether k equals target or is one of its subtypes.
func (k ErrorKind) Is(target ErrorKind) bool {
	for cur := k; cur != ""; cur = kindParents[cur] {
		if cur == target {
			return true
		}
	}
	return false
}

// Kinded is implemented by errors that carry their own ErrorKind.
// User tasks can declare custom graceful failures this way.
type Kinded interface {
	error
	Kind() ErrorKind
}

// TaskError is the typed error raised by the framework and by tasks that want
// a classified outcome. Result optionally carries the value the task should
// finish with (partial results, or the existing output for PreviousResultsExist).
type TaskError struct {
	Type   ErrorKind
	Title  string
	Err    error
	Result any
}

// Error implements error interface.
func (e *TaskError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Title, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Title)
}

// Unwrap returns the wrapped error.
func (e *TaskError) Unwrap() error {
	return e.Err
}

// Kind returns the error kind.
func (e *TaskError) Kind() ErrorKind {
	return e.Type
}

// Is matches bare sentinels by kind, honoring the kind hierarchy.
func (e *TaskError) Is(target error) bool {
	t, ok := target.(*TaskError)
	if !ok || t.Err != nil || t.Result != nil {
		return false
	}
	return e.Type.Is(t.Type)
}

// Predefined errors
var (
	// ErrPreconditionFailed matches every precondition failure.
	ErrPreconditionFailed = &TaskError{Type: KindPreconditionFailed}

	// ErrSoftPreconditionFailed matches upstream failure guards.
	ErrSoftPreconditionFailed = &TaskError{Type: KindSoftPreconditionFailed}

	// ErrPreviousResultsExist matches the idempotency guard.
	ErrPreviousResultsExist = &TaskError{Type: KindPreviousResultsExist}

	// ErrGracefulFailWithPartialResults matches declared partial successes.
	ErrGracefulFailWithPartialResults = &TaskError{Type: KindGracefulFailWithPartialResults}

	// ErrPostconditionFailed matches postcondition violations.
	ErrPostconditionFailed = &TaskError{Type: KindPostconditionFailed}
)

// NewPreconditionError creates a soft precondition failure of the given kind.
func NewPreconditionError(kind ErrorKind, title string) *TaskError {
	return &TaskError{Type: kind, Title: title}
}

// PreviousResults signals that result was already produced by an earlier run.
func PreviousResults(result any) *TaskError {
	return &TaskError{
		Type:   KindPreviousResultsExist,
		Title:  "previous results exist",
		Result: result,
	}
}

// GracefulFailure lets a task stop early with a usable partial result.
func GracefulFailure(result any, title string) *TaskError {
	return &TaskError{
		Type:   KindGracefulFailWithPartialResults,
		Title:  title,
		Result: result,
	}
}

// NewPostconditionError creates a postcondition violation.
func NewPostconditionError(title string, err error) *TaskError {
	return &TaskError{Type: KindPostconditionFailed, Title: title, Err: err}
}

// KindOf classifies err by walking its chain.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var kinded Kinded
	if errors.As(err, &kinded) {
		return kinded.Kind()
	}

	switch {
	case errors.Is(err, artifacts.ErrBackendUnavailable):
		return KindBackendUnavailable
	case errors.Is(err, artifacts.ErrBackendRejected):
		return KindBackendRejected
	}
	return KindUnclassified
}

// TitleOf returns the human readable problem title for err.
func TitleOf(err error) string {
	var te *TaskError
	if errors.As(err, &te) && te.Title != "" {
		return te.Title
	}
	return err.Error()
}

// ResultOf returns the result payload carried by a TaskError, if any.
func ResultOf(err error) (any, bool) {
	var te *TaskError
	if errors.As(err, &te) && te.Result != nil {
		return te.Result, true
	}
	return nil, false
}

// ControlSignal is raised by the scheduler itself, never by user code.
// The framework passes it through untouched.
type ControlSignal struct {
	Reason string
}

func (s *ControlSignal) Error() string {
	return "control signal: " + s.Reason
}

// IsControlSignal reports whether err originates from the scheduler: an
// explicit ControlSignal, Temporal cancellation/termination, or the
// cancellation or deadline of ctx itself. Context errors raised while ctx is
// still live come from user code and are not control signals.
func IsControlSignal(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	var cs *ControlSignal
	if errors.As(err, &cs) {
		return true
	}
	if temporal.IsCanceledError(err) || temporal.IsTerminatedError(err) {
		return true
	}
	if ctx == nil {
		return false
	}
	done := ctx.Err()
	return done != nil && errors.Is(err, done)
}
