package tasklifecycle

import "sync/atomic"

// ActiveTaskRecord is the mutable handle for one in-flight task,
// owned exclusively by its TaskManager (spec §3). Invariant: at any
// instant, either the owning manager's active pointer is nil, or this
// record's Done channel has not yet closed.
type ActiveTaskRecord struct {
	id     string
	cancel *Signal
	done   chan struct{}
	err    error

	// queued is true iff one pending updater is already draining this
	// record. At most one updater may transition it false->true;
	// subsequent updaters observing it already true return immediately
	// without effect (spec §3, §8 "the queued flag is never true for
	// two distinct updaters simultaneously").
	queued atomic.Bool
}

func newActiveTaskRecord(id string, cancel *Signal) *ActiveTaskRecord {
	return &ActiveTaskRecord{id: id, cancel: cancel, done: make(chan struct{})}
}

// ID returns the record's task id, stable across retries within this
// update cycle (spec §6).
func (a *ActiveTaskRecord) ID() string { return a.id }

// claimQueued attempts to become the single queued updater for this
// record. Returns false if another updater already holds the slot.
func (a *ActiveTaskRecord) claimQueued() bool {
	return a.queued.CompareAndSwap(false, true)
}

// wait blocks until the retry loop backing this record has returned,
// swallowing its error per the spec's Update policy ("await A.done,
// swallowing its error").
func (a *ActiveTaskRecord) wait() {
	<-a.done
}

// finish records the retry loop's terminal error (nil on success or
// clean cancellation) and closes done, waking every waiter.
func (a *ActiveTaskRecord) finish(err error) {
	a.err = err
	close(a.done)
}
