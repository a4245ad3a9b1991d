// Package tasks wraps fire-and-forget goroutines so that no failure ever
// disappears silently. A reaction removal or cleanup call that fails in the
// background is operationally invisible unless something observes and
// reports it — this package is that single choke point.
package tasks

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/laundmo/gh-linker-bot/pkg/logger"
	"github.com/laundmo/gh-linker-bot/pkg/platform"
)

// Task is one spawned unit of background work. It completes exactly once:
// success, failure, or cancellation.
type Task struct {
	// ID is a random token identifying this task in diagnostics.
	ID string

	// Label is advisory, used only for log attribution. It has no effect
	// on scheduling or failure classification.
	Label string

	done chan struct{}
	err  atomic.Pointer[error]
}

// Err returns the task's failure after completion, or nil.
func (t *Task) Err() error {
	if p := t.err.Load(); p != nil {
		return *p
	}
	return nil
}

// Done is closed when the task has completed and its outcome was evaluated.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task completes or ctx is cancelled.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Spawn schedules fn on its own goroutine and returns immediately.
// The completion observer runs exactly once, regardless of how fn ends:
//
//   - success and cancellation are silent
//   - failures whose kind is in suppressed are silent (the caller declared
//     that outcome acceptable, e.g. NotFound during best-effort cleanup)
//   - any other failure is logged once at error severity with the label and
//     task token, then dropped — the caller has already returned, so it is
//     never re-raised
//
// The spawned work is not tied to any caller lifetime; it runs on a
// background context and may outlive the code that started it.
func Spawn(label string, fn func(context.Context) error, suppressed ...platform.FailureKind) *Task {
	return SpawnContext(context.Background(), label, fn, suppressed...)
}

// SpawnContext is Spawn with an explicitly supplied parent context.
func SpawnContext(ctx context.Context, label string, fn func(context.Context) error, suppressed ...platform.FailureKind) *Task {
	t := &Task{
		ID:    uuid.NewString(),
		Label: label,
		done:  make(chan struct{}),
	}

	go func() {
		defer close(t.done)
		err := run(ctx, fn)
		if err != nil {
			t.err.Store(&err)
		}
		t.observe(err, suppressed)
	}()

	return t
}

// run invokes fn, converting panics into internal failures.
func run(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in task: %v", r)
		}
	}()
	return fn(ctx)
}

// observe evaluates the task's outcome exactly once.
func (t *Task) observe(err error, suppressed []platform.FailureKind) {
	kind := platform.Classify(err)
	switch {
	case kind == platform.KindNone:
		return
	case kind == platform.KindCancelled:
		// Expected during shutdown; never an error.
		logger.DebugCF("tasks", "Task cancelled", map[string]interface{}{
			"task": t.Label, "id": t.ID,
		})
	case kindIn(kind, suppressed):
		logger.DebugCF("tasks", "Task failure suppressed", map[string]interface{}{
			"task": t.Label, "id": t.ID, "kind": kind, "error": err,
		})
	default:
		logger.ErrorCF("tasks", "Error in task", map[string]interface{}{
			"task": t.Label, "id": t.ID, "kind": kind, "error": err,
		})
	}
}

func kindIn(kind platform.FailureKind, set []platform.FailureKind) bool {
	for _, k := range set {
		if k == kind {
			return true
		}
	}
	return false
}
