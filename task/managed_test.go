package task

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jasoet/go-iguazu/task/artifacts"
	"github.com/jasoet/go-iguazu/task/artifacts/artifactstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noSignalError struct{}

func (noSignalError) Error() string   { return "no signal" }
func (noSignalError) Kind() ErrorKind { return "ecg.NoSignal" }

func seedParent(t *testing.T, status string) (*artifactstest.MemoryBackend, *artifacts.Artifact, string) {
	t.Helper()
	cacheDir := t.TempDir()
	backend := artifactstest.NewMemoryBackend("remote", cacheDir)
	md := artifacts.Metadata{"ecg": {"rate": 256}}
	if status != "" {
		md[artifacts.DefaultJournalFamily] = artifacts.Family{"status": status}
	}
	p := backend.Seed("42", "foo.hdf5", "bar", []byte("raw"), md)
	return backend, p, cacheDir
}

func storedJournal(t *testing.T, backend *artifactstest.MemoryBackend, id string) Journal {
	t.Helper()
	md, ok := backend.Stored(id)
	require.True(t, ok, "artifact %s not stored", id)
	return JournalFrom(md[artifacts.DefaultJournalFamily])
}

func TestManaged_ExampleScenario(t *testing.T) {
	ctx := context.Background()
	backend, p, _ := seedParent(t, StatusSuccess)

	tk := newDeriveTask("ecg.Clean", writeOutput("clean"))
	m, err := NewManaged(tk, mustOptions())
	require.NoError(t, err)

	first, err := m.Execute(ctx, Inputs{"p": p})
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, first.State)

	out, ok := first.Result.(*artifacts.Artifact)
	require.True(t, ok)
	require.True(t, out.Persisted())
	assert.Equal(t, "foo_t.hdf5", out.Filename)
	assert.Equal(t, "bar", out.Path)

	journal := storedJournal(t, backend, out.ID)
	assert.Equal(t, StatusSuccess, journal.Status)
	assert.Equal(t, []string{"42"}, journal.Parents)
	assert.Nil(t, journal.Problem)
	assert.Equal(t, "ecg.Clean", journal.Task)
	assert.Equal(t, "1.0.0", journal.TaskVersion)
	assert.Equal(t, CreatedBy, journal.CreatedBy)

	second, err := m.Execute(ctx, Inputs{"p": p})
	require.NoError(t, err)
	assert.Equal(t, StateSkippedPreviousResult, second.State)

	again, ok := second.Result.(*artifacts.Artifact)
	require.True(t, ok)
	assert.Equal(t, out.ID, again.ID)
	assert.Equal(t, int32(1), tk.runs.Load(), "user code must not run again")

	// The skip does not rewrite the journal
	assert.Equal(t, StatusSuccess, storedJournal(t, backend, out.ID).Status)
}

func TestManaged_ForceOverride(t *testing.T) {
	tests := []struct {
		name  string
		opts  []Option
		mopts []ManagedOption
	}{
		{name: "force flag", opts: []Option{WithForce(true)}},
		{name: "forced task name", mopts: []ManagedOption{WithForcedNames("other.Task", "ecg.Clean")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			_, p, _ := seedParent(t, StatusSuccess)

			tk := newDeriveTask("ecg.Clean", writeOutput("clean"))
			m, err := NewManaged(tk, mustOptions(tt.opts...), tt.mopts...)
			require.NoError(t, err)
			assert.True(t, m.Forced())

			first, err := m.Execute(ctx, Inputs{"p": p})
			require.NoError(t, err)
			second, err := m.Execute(ctx, Inputs{"p": p})
			require.NoError(t, err)

			assert.Equal(t, StateSucceeded, second.State)
			assert.Equal(t, int32(2), tk.runs.Load())
			assert.Equal(t, first.Result.(*artifacts.Artifact).ID, second.Result.(*artifacts.Artifact).ID)
		})
	}
}

func TestManaged_UpstreamFailureGuard(t *testing.T) {
	ctx := context.Background()
	backend, p, _ := seedParent(t, StatusFailed)

	tk := newDeriveTask("ecg.Clean", writeOutput("clean"))
	m, err := NewManaged(tk, mustOptions())
	require.NoError(t, err)

	outcome, err := m.Execute(ctx, Inputs{"p": p})
	require.NoError(t, err)
	assert.Equal(t, StateGracefullyFailed, outcome.State)
	assert.Equal(t, int32(0), tk.runs.Load())
	require.NotNil(t, outcome.Problem)
	assert.Equal(t, string(KindSoftPreconditionFailed), outcome.Problem.Type)

	out := outcome.Result.(*artifacts.Artifact)
	journal := storedJournal(t, backend, out.ID)
	assert.Equal(t, StatusFailed, journal.Status)
	require.NotNil(t, journal.Problem)
	assert.Equal(t, string(KindSoftPreconditionFailed), journal.Problem.Type)
	assert.Equal(t, []string{"42"}, journal.Parents)
}

func TestManaged_HardFailCleanup(t *testing.T) {
	ctx := context.Background()
	backend, p, cacheDir := seedParent(t, StatusSuccess)
	boom := errors.New("boom")

	tk := newDeriveTask("ecg.Clean", func(ctx context.Context, in Inputs, out *artifacts.Artifact) (any, error) {
		if _, err := writeOutput("partial")(ctx, in, out); err != nil {
			return nil, err
		}
		return nil, boom
	})
	m, err := NewManaged(tk, mustOptions())
	require.NoError(t, err)

	outcome, err := m.Execute(ctx, Inputs{"p": p})
	assert.Same(t, boom, err, "the original error is returned unchanged")
	assert.Equal(t, StateHardFailed, outcome.State)
	assert.Equal(t, string(KindUnclassified), outcome.Problem.Type)

	assert.NoFileExists(t, filepath.Join(cacheDir, "bar", "foo_t.hdf5"))
	assert.Equal(t, 1, backend.Len())

	defaults, err := tk.DefaultOutputs(ctx, Inputs{"p": p})
	require.NoError(t, err)
	assert.False(t, defaults.(*artifacts.Artifact).Persisted())
}

func TestManaged_HardFailDeletesPersistedPartialOutput(t *testing.T) {
	ctx := context.Background()
	backend, p, _ := seedParent(t, StatusSuccess)
	boom := errors.New("boom")

	tk := newDeriveTask("ecg.Clean", func(ctx context.Context, in Inputs, out *artifacts.Artifact) (any, error) {
		if _, err := writeOutput("partial")(ctx, in, out); err != nil {
			return nil, err
		}
		if err := out.Persist(ctx); err != nil {
			return nil, err
		}
		return nil, boom
	})
	m, err := NewManaged(tk, mustOptions())
	require.NoError(t, err)

	_, err = m.Execute(ctx, Inputs{"p": p})
	assert.Same(t, boom, err)
	assert.Equal(t, 1, backend.Len(), "partial output must be deleted")
}

func TestManaged_HardFailCleanupErrorsAreNotRaised(t *testing.T) {
	ctx := context.Background()
	backend, p, _ := seedParent(t, StatusSuccess)
	boom := errors.New("boom")

	tk := newDeriveTask("ecg.Clean", func(ctx context.Context, in Inputs, out *artifacts.Artifact) (any, error) {
		if _, err := writeOutput("partial")(ctx, in, out); err != nil {
			return nil, err
		}
		if err := out.Persist(ctx); err != nil {
			return nil, err
		}
		backend.FailDelete = errors.New("delete refused")
		return nil, boom
	})
	m, err := NewManaged(tk, mustOptions())
	require.NoError(t, err)

	outcome, err := m.Execute(ctx, Inputs{"p": p})
	assert.Same(t, boom, err)
	assert.Equal(t, StateHardFailed, outcome.State)
}

func TestManaged_GracefulFailMetadata(t *testing.T) {
	ctx := context.Background()
	backend, p, _ := seedParent(t, StatusSuccess)

	tk := newDeriveTask("ecg.Clean", func(ctx context.Context, in Inputs, out *artifacts.Artifact) (any, error) {
		return nil, GracefulFailure(nil, "signal too short")
	})
	m, err := NewManaged(tk, mustOptions())
	require.NoError(t, err)

	outcome, err := m.Execute(ctx, Inputs{"p": p})
	require.NoError(t, err)
	assert.Equal(t, StateGracefullyFailed, outcome.State)
	assert.Equal(t, "signal too short", outcome.Message)

	out := outcome.Result.(*artifacts.Artifact)
	require.True(t, out.Persisted())

	journal := storedJournal(t, backend, out.ID)
	assert.Equal(t, StatusFailed, journal.Status)
	require.NotNil(t, journal.Problem)
	assert.Equal(t, string(KindGracefulFailWithPartialResults), journal.Problem.Type)
	assert.Equal(t, "signal too short", journal.Problem.Title)

	// The empty default output was created so downstream tasks can consume it
	md, _ := backend.Stored(out.ID)
	size, _ := md[artifacts.BaseFamily].Int64("size")
	assert.Equal(t, int64(0), size)
}

func TestManaged_GracefulFailWithPartialResults(t *testing.T) {
	ctx := context.Background()
	backend, p, _ := seedParent(t, StatusSuccess)

	tk := newDeriveTask("ecg.Clean", func(ctx context.Context, in Inputs, out *artifacts.Artifact) (any, error) {
		if _, err := writeOutput("half")(ctx, in, out); err != nil {
			return nil, err
		}
		return nil, GracefulFailure(out, "only half the recording")
	})
	m, err := NewManaged(tk, mustOptions())
	require.NoError(t, err)

	outcome, err := m.Execute(ctx, Inputs{"p": p})
	require.NoError(t, err)
	assert.Equal(t, StateGracefullyFailed, outcome.State)

	out := outcome.Result.(*artifacts.Artifact)
	md, _ := backend.Stored(out.ID)
	size, _ := md[artifacts.BaseFamily].Int64("size")
	assert.Equal(t, int64(len("half")), size)
	assert.Equal(t, StatusFailed, storedJournal(t, backend, out.ID).Status)
}

func TestManaged_CustomGracefulKind(t *testing.T) {
	run := func(ctx context.Context, in Inputs, out *artifacts.Artifact) (any, error) {
		return nil, noSignalError{}
	}

	t.Run("configured", func(t *testing.T) {
		backend, p, _ := seedParent(t, StatusSuccess)
		m, err := NewManaged(newDeriveTask("ecg.Clean", run), mustOptions(WithGracefulKinds("ecg.NoSignal")))
		require.NoError(t, err)

		outcome, err := m.Execute(context.Background(), Inputs{"p": p})
		require.NoError(t, err)
		assert.Equal(t, StateGracefullyFailed, outcome.State)

		journal := storedJournal(t, backend, outcome.Result.(*artifacts.Artifact).ID)
		assert.Equal(t, "ecg.NoSignal", journal.Problem.Type)
		assert.Equal(t, "no signal", journal.Problem.Title)
	})

	t.Run("not configured", func(t *testing.T) {
		backend, p, _ := seedParent(t, StatusSuccess)
		m, err := NewManaged(newDeriveTask("ecg.Clean", run), mustOptions())
		require.NoError(t, err)

		outcome, err := m.Execute(context.Background(), Inputs{"p": p})
		assert.Equal(t, noSignalError{}, err)
		assert.Equal(t, StateHardFailed, outcome.State)
		assert.Equal(t, 1, backend.Len())
	})
}

func TestManaged_PostconditionFailureIsHard(t *testing.T) {
	ctx := context.Background()
	backend, p, _ := seedParent(t, StatusSuccess)

	tk := newDeriveTask("ecg.Clean", writeOutput("clean"))
	tk.post = func(ctx context.Context, in Inputs, result any) error {
		return NewPostconditionError("output has no rows", nil)
	}
	m, err := NewManaged(tk, mustOptions())
	require.NoError(t, err)

	outcome, err := m.Execute(ctx, Inputs{"p": p})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPostconditionFailed)
	assert.Equal(t, StateHardFailed, outcome.State)
	assert.Equal(t, 1, backend.Len())
}

func TestManaged_TaskPreconditionRunsAfterFrameworkChecks(t *testing.T) {
	ctx := context.Background()
	_, p, _ := seedParent(t, StatusFailed)

	called := false
	tk := newDeriveTask("ecg.Clean", writeOutput("clean"))
	tk.pre = func(ctx context.Context, in Inputs) error {
		called = true
		return nil
	}
	m, err := NewManaged(tk, mustOptions())
	require.NoError(t, err)

	outcome, err := m.Execute(ctx, Inputs{"p": p})
	require.NoError(t, err)
	assert.Equal(t, StateGracefullyFailed, outcome.State)
	assert.False(t, called, "task preconditions run only when the framework checks pass")
}

func TestManaged_TaskPreconditionFailure(t *testing.T) {
	ctx := context.Background()
	backend, p, _ := seedParent(t, StatusSuccess)

	tk := newDeriveTask("ecg.Clean", writeOutput("clean"))
	tk.pre = func(ctx context.Context, in Inputs) error {
		return NewPreconditionError(KindPreconditionFailed, "sampling rate too low")
	}
	m, err := NewManaged(tk, mustOptions())
	require.NoError(t, err)

	outcome, err := m.Execute(ctx, Inputs{"p": p})
	require.NoError(t, err)
	assert.Equal(t, StateGracefullyFailed, outcome.State)
	assert.Equal(t, int32(0), tk.runs.Load())

	journal := storedJournal(t, backend, outcome.Result.(*artifacts.Artifact).ID)
	assert.Equal(t, "sampling rate too low", journal.Problem.Title)
}

func TestManaged_ControlSignalBypassesCleanup(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		signal  func(ctx context.Context, cancel context.CancelFunc) error
	}{
		{
			name: "invocation canceled",
			signal: func(ctx context.Context, cancel context.CancelFunc) error {
				cancel()
				return fmt.Errorf("fetch: %w", ctx.Err())
			},
		},
		{
			name:    "invocation deadline",
			timeout: 200 * time.Millisecond,
			signal: func(ctx context.Context, _ context.CancelFunc) error {
				<-ctx.Done()
				return ctx.Err()
			},
		},
		{
			name: "scheduler signal",
			signal: func(context.Context, context.CancelFunc) error {
				return &ControlSignal{Reason: "flow aborted"}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ctx context.Context
			var cancel context.CancelFunc
			if tt.timeout > 0 {
				ctx, cancel = context.WithTimeout(context.Background(), tt.timeout)
			} else {
				ctx, cancel = context.WithCancel(context.Background())
			}
			defer cancel()
			backend, p, _ := seedParent(t, StatusSuccess)

			tk := newDeriveTask("ecg.Clean", func(ctx context.Context, in Inputs, out *artifacts.Artifact) (any, error) {
				if _, err := writeOutput("partial")(ctx, in, out); err != nil {
					return nil, err
				}
				if err := out.Persist(ctx); err != nil {
					return nil, err
				}
				return nil, tt.signal(ctx, cancel)
			})
			m, err := NewManaged(tk, mustOptions())
			require.NoError(t, err)

			outcome, err := m.Execute(ctx, Inputs{"p": p})
			require.Error(t, err)
			assert.True(t, IsControlSignal(ctx, err))
			assert.Equal(t, StateRunning, outcome.State)
			assert.Equal(t, 2, backend.Len(), "control signals never trigger cleanup")
			assert.Equal(t, 0, backend.Count("delete"))
		})
	}
}

func TestManaged_TaskDeadlineIsHardFailure(t *testing.T) {
	ctx := context.Background()
	backend, p, _ := seedParent(t, StatusSuccess)

	tk := newDeriveTask("ecg.Clean", func(ctx context.Context, in Inputs, out *artifacts.Artifact) (any, error) {
		if _, err := writeOutput("partial")(ctx, in, out); err != nil {
			return nil, err
		}
		if err := out.Persist(ctx); err != nil {
			return nil, err
		}
		sub, cancel := context.WithTimeout(ctx, time.Nanosecond)
		defer cancel()
		<-sub.Done()
		return nil, sub.Err()
	})
	m, err := NewManaged(tk, mustOptions())
	require.NoError(t, err)

	outcome, err := m.Execute(ctx, Inputs{"p": p})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateHardFailed, outcome.State)
	assert.Equal(t, 1, backend.Len(), "the partial output is deleted")
	assert.Equal(t, 1, backend.Count("delete"))
}

func TestManaged_BackendErrorBeforeRunKeepsPreviousOutput(t *testing.T) {
	ctx := context.Background()
	backend, p, _ := seedParent(t, StatusSuccess)

	tk := newDeriveTask("ecg.Clean", writeOutput("clean"))
	m, err := NewManaged(tk, mustOptions())
	require.NoError(t, err)

	first, err := m.Execute(ctx, Inputs{"p": p})
	require.NoError(t, err)
	outID := first.Result.(*artifacts.Artifact).ID

	backend.FailFetchMetadata = func(id string) error {
		if id != outID {
			return nil
		}
		return &artifacts.BackendError{
			Kind:    artifacts.ErrorKindUnavailable,
			Backend: "remote",
			Op:      "fetch_metadata",
			Err:     errors.New("503 service unavailable"),
		}
	}

	second, err := m.Execute(ctx, Inputs{"p": p})
	require.Error(t, err)
	assert.ErrorIs(t, err, artifacts.ErrBackendUnavailable)
	assert.Equal(t, KindBackendUnavailable, KindOf(err))
	assert.Equal(t, StateHardFailed, second.State)
	assert.Equal(t, int32(1), tk.runs.Load(), "user code never ran")

	assert.Equal(t, 0, backend.Count("delete"))
	assert.Equal(t, StatusSuccess, storedJournal(t, backend, outID).Status,
		"the previous result survives a transient error")
}

func TestManaged_CreatesMissingOutputFile(t *testing.T) {
	ctx := context.Background()
	backend, p, _ := seedParent(t, StatusSuccess)

	tk := newDeriveTask("ecg.Clean", func(ctx context.Context, in Inputs, out *artifacts.Artifact) (any, error) {
		return out, nil
	})
	m, err := NewManaged(tk, mustOptions())
	require.NoError(t, err)

	outcome, err := m.Execute(ctx, Inputs{"p": p})
	require.NoError(t, err)
	out := outcome.Result.(*artifacts.Artifact)
	require.True(t, out.Persisted())
	assert.Equal(t, StatusSuccess, storedJournal(t, backend, out.ID).Status)
}

func TestManaged_TupleResults(t *testing.T) {
	ctx := context.Background()
	backend, p, _ := seedParent(t, StatusSuccess)

	tk := newDeriveTask("ecg.Clean", func(ctx context.Context, in Inputs, out *artifacts.Artifact) (any, error) {
		if _, err := writeOutput("clean")(ctx, in, out); err != nil {
			return nil, err
		}
		return Tuple{3.5, out, "label"}, nil
	})
	m, err := NewManaged(tk, mustOptions())
	require.NoError(t, err)

	outcome, err := m.Execute(ctx, Inputs{"p": p})
	require.NoError(t, err)

	tuple, ok := outcome.Result.(Tuple)
	require.True(t, ok)
	require.Len(t, tuple, 3)
	assert.Equal(t, 3.5, tuple[0])
	out := tuple[1].(*artifacts.Artifact)
	assert.True(t, out.Persisted())
	assert.Equal(t, 2, backend.Len())
}

func TestManaged_BackendFailureDuringFinalizeIsHard(t *testing.T) {
	ctx := context.Background()
	backend, p, cacheDir := seedParent(t, StatusSuccess)

	tk := newDeriveTask("ecg.Clean", writeOutput("clean"))
	m, err := NewManaged(tk, mustOptions())
	require.NoError(t, err)

	backend.FailUpload = &artifacts.BackendError{
		Kind: artifacts.ErrorKindUnavailable, Backend: "remote", Op: "upload data", Err: errors.New("timeout"),
	}

	outcome, err := m.Execute(ctx, Inputs{"p": p})
	require.Error(t, err)
	assert.ErrorIs(t, err, artifacts.ErrBackendUnavailable)
	assert.Equal(t, StateHardFailed, outcome.State)
	assert.Equal(t, string(KindBackendUnavailable), outcome.Problem.Type)
	assert.Equal(t, 0, backend.Count("update_metadata"))
	assert.NoFileExists(t, filepath.Join(cacheDir, "bar", "foo_t.hdf5"))
}

func TestManaged_AutoCleanFiles(t *testing.T) {
	ctx := context.Background()
	_, p, cacheDir := seedParent(t, StatusSuccess)

	tk := newDeriveTask("ecg.Clean", func(ctx context.Context, in Inputs, out *artifacts.Artifact) (any, error) {
		parent, _ := in.Artifact("p")
		if _, err := parent.Materialize(ctx); err != nil {
			return nil, err
		}
		return writeOutput("clean")(ctx, in, out)
	})
	m, err := NewManaged(tk, mustOptions(WithAutoCleanFiles(true)))
	require.NoError(t, err)

	_, err = m.Execute(ctx, Inputs{"p": p})
	require.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(cacheDir, "bar", "foo.hdf5"))
	assert.NoFileExists(t, filepath.Join(cacheDir, "bar", "foo_t.hdf5"))
}

func TestManaged_ExecuteCached(t *testing.T) {
	ctx := context.Background()
	backend, p, _ := seedParent(t, StatusSuccess)

	cache, err := NewLRURunCache(16)
	require.NoError(t, err)

	tk := newDeriveTask("ecg.Clean", writeOutput("clean"))
	m, err := NewManaged(tk, mustOptions(), WithRunCache(cache))
	require.NoError(t, err)

	fp := Fingerprints{Inputs: "in-1", Parameters: "params-1"}
	first, err := m.ExecuteCached(ctx, Inputs{"p": p}, "flow/clean", fp)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, first.State)
	assert.False(t, first.Cached)

	calls := len(backend.Calls())
	second, err := m.ExecuteCached(ctx, Inputs{"p": p}, "flow/clean", fp)
	require.NoError(t, err)
	assert.Equal(t, StateSkippedPreviousResult, second.State)
	assert.True(t, second.Cached)
	assert.Same(t, first.Result, second.Result)
	assert.Equal(t, calls, len(backend.Calls()), "a reuse performs no artifact I/O")

	changed := Fingerprints{Inputs: "in-1", Parameters: "params-2"}
	third, err := m.ExecuteCached(ctx, Inputs{"p": p}, "flow/clean", changed)
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.Equal(t, StateSkippedPreviousResult, third.State, "the journal still guards against rerunning")
	assert.Equal(t, int32(1), tk.runs.Load())
}

func TestManaged_ExecuteCachedForced(t *testing.T) {
	ctx := context.Background()
	_, p, _ := seedParent(t, StatusSuccess)

	cache, err := NewLRURunCache(16)
	require.NoError(t, err)

	tk := newDeriveTask("ecg.Clean", writeOutput("clean"))
	m, err := NewManaged(tk, mustOptions(WithForce(true)), WithRunCache(cache))
	require.NoError(t, err)

	fp := Fingerprints{Inputs: "in", Parameters: "params"}
	for i := 0; i < 2; i++ {
		outcome, err := m.ExecuteCached(ctx, Inputs{"p": p}, "flow/clean", fp)
		require.NoError(t, err)
		assert.False(t, outcome.Cached)
	}
	assert.Equal(t, int32(2), tk.runs.Load())
}

func TestManaged_Hooks(t *testing.T) {
	ctx := context.Background()
	_, p, _ := seedParent(t, StatusSuccess)

	counts := make(map[State]int)
	hooks := NewHooks().
		On(func(ctx context.Context, e HookEvent) { counts[e.Outcome.State]++ }, StateRunning, StateSucceeded, StateSkippedPreviousResult).
		OnFinished(LogHook()).
		OnFinished(MemoryPressureHook(1 << 40))

	m, err := NewManaged(newDeriveTask("ecg.Clean", writeOutput("clean")), mustOptions(), WithHooks(hooks))
	require.NoError(t, err)

	_, err = m.Execute(ctx, Inputs{"p": p})
	require.NoError(t, err)
	_, err = m.Execute(ctx, Inputs{"p": p})
	require.NoError(t, err)

	assert.Equal(t, 2, counts[StateRunning])
	assert.Equal(t, 1, counts[StateSucceeded])
	assert.Equal(t, 1, counts[StateSkippedPreviousResult])
}

func TestManaged_DoesNotMutateCallerInputs(t *testing.T) {
	ctx := context.Background()
	_, p, _ := seedParent(t, StatusSuccess)

	in := Inputs{"p": p, "threshold": 0.5}
	m, err := NewManaged(newDeriveTask("ecg.Clean", writeOutput("clean")), mustOptions())
	require.NoError(t, err)

	_, err = m.Execute(ctx, in)
	require.NoError(t, err)
	assert.Same(t, p, in["p"])
	assert.Equal(t, 0.5, in["threshold"])
	assert.Len(t, in, 2)
}

func TestNewManaged_Validation(t *testing.T) {
	_, err := NewManaged(nil, mustOptions())
	assert.Error(t, err)

	_, err = NewManaged(newDeriveTask("x", writeOutput("")), Options{})
	assert.Error(t, err, "journal family is required")
}

func TestEnsureFile(t *testing.T) {
	backend := artifactstest.NewMemoryBackend("remote", t.TempDir())
	a := artifacts.New(backend, "new.bin", "deep/dir", false)

	require.NoError(t, ensureFile(a))
	info, err := os.Stat(a.LocalPath())
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size())

	require.NoError(t, os.WriteFile(a.LocalPath(), []byte("keep"), 0o644))
	require.NoError(t, ensureFile(a))
	data, err := os.ReadFile(a.LocalPath())
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))
}
