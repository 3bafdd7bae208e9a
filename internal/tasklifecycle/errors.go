package tasklifecycle

import (
	"context"
	"errors"
)

// Error taxonomy (spec §7):
//
//   - Cancelled: the task observed cancellation. Never retried, never
//     reported as a user-level failure.
//   - Transient launch failure: Launch raised a non-cancellation error.
//     Retried per the template's RetryPolicy; if retries exhaust, logged
//     and the ActiveTaskRecord resolves in failure.
//   - Persistent-mode failure: any error in persistent mode, including
//     transient ones, is logged and retried indefinitely.
//   - Configuration error: caught at template construction time (e.g.
//     Persistent && !InitialRun) and surfaced to the caller immediately.
//   - Watcher error: before Ready, fails the initial watch; after Ready,
//     initiates shutdown (see internal/supervisor).
//   - Teardown failure: logged, never re-raised.
//
// A TaskManager never propagates a task failure out of Update; the
// caller (the ManagerPool) thus observes only reconciliation-level
// errors, which it too catches and logs. Template construction is the
// only call site that can fail the whole system.
var (
	// ErrCancelled is the cause attached to a Signal when it fires.
	ErrCancelled = errors.New("tasklifecycle: task cancelled")

	// ErrInvalidTemplate is returned by NewTaskTemplate when the
	// template's flags describe an impossible configuration.
	ErrInvalidTemplate = errors.New("tasklifecycle: invalid task template")

	// ErrLaunchPanicked wraps a recovered panic from a Launch callback,
	// converting it into an ordinary transient launch failure so a
	// misbehaving task body cannot take the whole process down with it.
	ErrLaunchPanicked = errors.New("tasklifecycle: launch panicked")
)

// isAborted reports whether err represents cancellation rather than a
// real task failure, per §7's "Cancelled" taxonomy entry.
func isAborted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled)
}
