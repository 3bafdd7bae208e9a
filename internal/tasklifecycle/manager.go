package tasklifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eirenewatch/eirenewatch/internal/config"
	"github.com/eirenewatch/eirenewatch/internal/idgen"
	"github.com/eirenewatch/eirenewatch/internal/spawn"
)

// TaskManager owns at most one ActiveTaskRecord for a given slot,
// serializes Update calls, and implements the interrupt/wait/persistent
// policy and the retry loop described in spec §4.1.
type TaskManager struct {
	template *TaskTemplate
	entryID  string
	log      *slog.Logger
	metrics  metricsSink

	mu     sync.Mutex
	active *ActiveTaskRecord

	teardownInitiated atomic.Bool
	firstEvent        atomic.Bool
}

// metricsSink is the minimal surface TaskManager and ManagerPool need
// from internal/metrics, kept local to avoid an import cycle (metrics
// depends on nothing in this package, but the indirection keeps a
// nil-metrics manager trivially constructible in tests).
type metricsSink interface {
	LaunchStarted(entryID string)
	LaunchSucceeded(entryID string, attempt int)
	LaunchFailed(entryID string, attempt int)
	LaunchCancelled(entryID string)
	RetriesExhausted(entryID string)
	ManagerCreated(entryID string)
	ManagerDestroyed(entryID string)
}

type noopMetrics struct{}

func (noopMetrics) LaunchStarted(string)        {}
func (noopMetrics) LaunchSucceeded(string, int) {}
func (noopMetrics) LaunchFailed(string, int)    {}
func (noopMetrics) LaunchCancelled(string)      {}
func (noopMetrics) RetriesExhausted(string)     {}
func (noopMetrics) ManagerCreated(string)       {}
func (noopMetrics) ManagerDestroyed(string)     {}

// NewTaskManager constructs a manager for one slot. log may be nil, in
// which case slog.Default() is used. The manager starts with a no-op
// metrics sink until WithMetrics attaches one.
func NewTaskManager(template *TaskTemplate, entryID string, log *slog.Logger) *TaskManager {
	if log == nil {
		log = slog.Default()
	}
	tm := &TaskManager{
		template: template,
		entryID:  entryID,
		log:      log.With("entryID", entryID, "template", template.Name),
		metrics:  noopMetrics{},
	}
	tm.firstEvent.Store(true)
	return tm
}

// WithMetrics attaches a metrics sink; returns the manager for
// chaining at construction time.
func (tm *TaskManager) WithMetrics(m metricsSink) *TaskManager {
	if m != nil {
		tm.metrics = m
	}
	return tm
}

// Update requests that the slot reflect the given (config, data) pair
// (spec §4.1). It returns once the pending work has either started or
// been intentionally dropped. Task failures are never returned from
// here; they are logged.
func (tm *TaskManager) Update(cfg *config.Config, data any) {
	isFirst := tm.firstEvent.CompareAndSwap(true, false)

	tm.mu.Lock()
	current := tm.active
	tm.mu.Unlock()

	if current != nil {
		if !tm.drain(current) {
			return
		}
	}

	if tm.teardownInitiated.Load() {
		return
	}

	if isFirst && !tm.template.InitialRun {
		return
	}

	tm.start(cfg, data, isFirst)
}

// drain implements step 2 of the Update policy: signal/wait on the
// current active record, per the template's Interruptible/Persistent
// flags. Returns false if this call should return without starting a
// new task (either because the event was dropped, or because a
// persistent non-interruptible task can never be interrupted).
func (tm *TaskManager) drain(current *ActiveTaskRecord) bool {
	if tm.template.Interruptible {
		current.cancel.Cancel()
		if !current.claimQueued() {
			return false
		}
		current.wait()
		return true
	}

	if tm.template.Persistent {
		tm.log.Warn("update ignored: non-interruptible persistent task still running")
		return false
	}

	if !current.claimQueued() {
		return false
	}
	current.wait()
	return true
}

// start allocates a new ActiveTaskRecord and runs its retry loop in
// the background (spec §4.1 steps 4-5).
func (tm *TaskManager) start(cfg *config.Config, data any, first bool) {
	cancel := tm.template.ParentCancel.Child()
	rec := newActiveTaskRecord(idgen.New(), cancel)

	tm.mu.Lock()
	tm.active = rec
	tm.mu.Unlock()

	go tm.run(rec, cfg, data, first)
}

// run executes the retry loop for rec until it returns (success,
// retries exhausted, or cancellation), then clears tm.active if it
// still points at rec (spec §4.1 step 5), and only then resolves rec,
// so a non-nil tm.active never points at a finished record.
func (tm *TaskManager) run(rec *ActiveTaskRecord, cfg *config.Config, data any, first bool) {
	err := tm.retryLoop(rec, cfg, data, first)

	tm.mu.Lock()
	if tm.active == rec {
		tm.active = nil
	}
	tm.mu.Unlock()

	rec.finish(err)
}

// retryLoop is spec §4.1's "Retry loop". It returns nil on success or
// clean cancellation, and a non-nil error only when retries have been
// exhausted on a non-persistent template.
func (tm *TaskManager) retryLoop(rec *ActiveTaskRecord, cfg *config.Config, data any, first bool) error {
	policy := tm.template.Retry.normalized()
	attempt := 0

	for {
		if rec.cancel.Err() != nil {
			return nil
		}

		if attempt > 0 {
			select {
			case <-time.After(policy.backoffDelay(attempt)):
			case <-rec.cancel.Done():
				return nil
			}
		}

		lc := LaunchContext{
			EntryID: tm.entryID,
			TaskID:  rec.id,
			Attempt: attempt,
			First:   first,
			Config:  cfg,
			Data:    data,
			Cancel:  rec.cancel,
			Log:     tm.log,
			Spawn:   spawn.New(rec.id, tm.template.Cwd, tm.template.ThrottleOutput, tm.log),
		}

		tm.metrics.LaunchStarted(tm.entryID)
		_, err := tm.invokeLaunch(rec.cancel.Context(), lc)

		if err == nil {
			tm.metrics.LaunchSucceeded(tm.entryID, attempt)
			if tm.template.Persistent {
				tm.log.Debug("persistent launch completed, relaunching", "attempt", attempt)
				continue
			}
			return nil
		}

		if isAborted(err) {
			tm.metrics.LaunchCancelled(tm.entryID)
			return nil
		}

		tm.metrics.LaunchFailed(tm.entryID, attempt)

		if tm.template.Persistent {
			// Open question in spec §9: persistent mode makes
			// RetryPolicy.Retries dead code — every failure just
			// relaunches, forever, without consulting retriesLeft.
			tm.log.Error("persistent launch failed, relaunching", "attempt", attempt, "error", err)
			continue
		}

		retriesLeft := policy.Retries - attempt
		if retriesLeft > 0 {
			attempt++
			continue
		}

		tm.metrics.RetriesExhausted(tm.entryID)
		tm.log.Error("task failed after retries exhausted", "attempts", attempt+1, "error", err)
		return err
	}
}

// invokeLaunch runs the template's Launch callback, recovering a panic
// and converting it into an ordinary transient error (ErrLaunchPanicked)
// rather than letting it unwind into the manager's goroutine and take
// the process down, mirroring the teacher's own panic-to-error
// convention for user-supplied task bodies.
func (tm *TaskManager) invokeLaunch(ctx context.Context, lc LaunchContext) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrLaunchPanicked, r)
		}
	}()
	return tm.template.Launch(ctx, lc)
}

// Teardown requests graceful shutdown of this manager (spec §4.1).
// Idempotent: a second call is a no-op. It does not await the active
// task's completion — the ManagerPool provides that ordering (spec
// §9's open question on manager-level teardown).
func (tm *TaskManager) Teardown(ctx context.Context) {
	if !tm.teardownInitiated.CompareAndSwap(false, true) {
		return
	}

	tm.mu.Lock()
	active := tm.active
	tm.mu.Unlock()

	if active != nil {
		active.cancel.Cancel()
	}

	if tm.template.Teardown == nil {
		return
	}

	taskID := idgen.New()
	tc := TeardownContext{
		Spawn: spawn.New(taskID, tm.template.Cwd, tm.template.ThrottleOutput, tm.log),
	}
	if err := tm.template.Teardown(ctx, tc); err != nil {
		tm.log.Error("template teardown failed", "taskID", taskID, "error", err)
	}
}

// Drain blocks until the manager's active task (if any) has finished.
// The ManagerPool calls this before Teardown to provide the
// happens-before ordering the manager alone does not guarantee.
func (tm *TaskManager) Drain() {
	tm.mu.Lock()
	active := tm.active
	tm.mu.Unlock()

	if active != nil {
		active.wait()
	}
}
