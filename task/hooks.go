package task

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"

	"go.temporal.io/sdk/log"
)

// HookEvent describes a state transition of one task execution.
type HookEvent struct {
	Task    string
	Outcome Outcome
	Err     error
	Logger  log.Logger
}

// HookFunc is a per-state side effect. Hooks must not fail the task.
type HookFunc func(ctx context.Context, event HookEvent)

// Hooks holds side effects keyed by state. It is safe for concurrent use.
type Hooks struct {
	mu      sync.RWMutex
	byState map[State][]HookFunc
}

// NewHooks creates an empty hook set.
func NewHooks() *Hooks {
	return &Hooks{byState: make(map[State][]HookFunc)}
}

// On registers fn for the given states.
func (h *Hooks) On(fn HookFunc, states ...State) *Hooks {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range states {
		h.byState[s] = append(h.byState[s], fn)
	}
	return h
}

// OnFinished registers fn for every terminal state.
func (h *Hooks) OnFinished(fn HookFunc) *Hooks {
	return h.On(fn, StateSucceeded, StateGracefullyFailed, StateSkippedPreviousResult, StateHardFailed)
}

// Fire runs the hooks registered for the event state, in registration order.
func (h *Hooks) Fire(ctx context.Context, event HookEvent) {
	if h == nil {
		return
	}
	h.mu.RLock()
	fns := append([]HookFunc(nil), h.byState[event.Outcome.State]...)
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(ctx, event)
	}
}

// LogHook logs every transition it is registered for.
func LogHook() HookFunc {
	return func(ctx context.Context, event HookEvent) {
		if event.Logger == nil {
			return
		}
		keyvals := []interface{}{"state", event.Outcome.State, "cached", event.Outcome.Cached}
		if event.Outcome.Problem != nil {
			keyvals = append(keyvals, "problem", event.Outcome.Problem.Type, "title", event.Outcome.Problem.Title)
		}
		if event.Err != nil && event.Outcome.State == StateHardFailed {
			event.Logger.Error("Task state changed", append(keyvals, "error", event.Err)...)
			return
		}
		event.Logger.Info("Task state changed", keyvals...)
	}
}

// MemoryPressureHook forces a garbage collection and returns memory to the OS
// when the heap exceeds threshold bytes.
func MemoryPressureHook(threshold uint64) HookFunc {
	return func(ctx context.Context, event HookEvent) {
		var stats runtime.MemStats
		runtime.ReadMemStats(&stats)
		if stats.HeapAlloc < threshold {
			return
		}
		debug.FreeOSMemory()
		if event.Logger != nil {
			event.Logger.Info("Released memory after task", "heap_before", stats.HeapAlloc, "threshold", threshold)
		}
	}
}
