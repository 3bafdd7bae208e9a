package tasklifecycle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func assertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func assertEqual(t *testing.T, got, want interface{}) {
	t.Helper()
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func newTestTemplate(t *testing.T, launch LaunchFunc, opts ...TemplateOption) *TaskTemplate {
	t.Helper()
	tpl, err := NewTaskTemplate("test", launch, NewRootSignal(context.Background()), opts...)
	assertNoError(t, err)
	return tpl
}

// TestInitialRun covers spec §8 scenario 1: a template with
// initialRun=true fires exactly one launch on the first Update, with
// first=true, attempt=0.
func TestInitialRun(t *testing.T) {
	var calls int32
	var gotFirst bool
	var gotAttempt int
	var gotEntryID string
	var gotData any

	launched := make(chan struct{})
	tpl := newTestTemplate(t, func(ctx context.Context, lc LaunchContext) (any, error) {
		atomic.AddInt32(&calls, 1)
		gotFirst = lc.First
		gotAttempt = lc.Attempt
		gotEntryID = lc.EntryID
		gotData = lc.Data
		close(launched)
		return "ok", nil
	}, WithRetry(RetryPolicy{Retries: 3, Factor: 1, MinTimeout: 10 * time.Millisecond, MaxTimeout: 100 * time.Millisecond}))

	mgr := NewTaskManager(tpl, "0", nil)
	mgr.Update(nil, "a")

	select {
	case <-launched:
	case <-time.After(time.Second):
		t.Fatal("launch never invoked")
	}

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly one launch, got %d", calls)
	}
	assertEqual(t, gotFirst, true)
	assertEqual(t, gotAttempt, 0)
	assertEqual(t, gotEntryID, "0")
	assertEqual(t, gotData, "a")
}

// TestInterruptAndReplace covers spec §8 scenario 2: while a launch is
// in flight, a new Update cancels it, then a second launch starts with
// first=false. No third launch occurs.
func TestInterruptAndReplace(t *testing.T) {
	var calls int32
	firstLaunched := make(chan LaunchContext, 1)
	secondLaunched := make(chan LaunchContext, 1)

	tpl := newTestTemplate(t, func(ctx context.Context, lc LaunchContext) (any, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			firstLaunched <- lc
			<-lc.Cancel.Done()
			return nil, ErrCancelled
		}
		secondLaunched <- lc
		return "done", nil
	})

	mgr := NewTaskManager(tpl, "0", nil)
	mgr.Update(nil, "a")

	var first LaunchContext
	select {
	case first = <-firstLaunched:
	case <-time.After(time.Second):
		t.Fatal("first launch never invoked")
	}
	assertEqual(t, first.First, true)

	mgr.Update(nil, "b")

	var second LaunchContext
	select {
	case second = <-secondLaunched:
	case <-time.After(time.Second):
		t.Fatal("second launch never invoked")
	}
	assertEqual(t, second.First, false)
	assertEqual(t, second.Attempt, 0)
	assertEqual(t, second.Data, "b")

	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected exactly two launches, got %d", calls)
	}
}

// TestRetryWithBackoff covers spec §8 scenario 3: retries=2 with a
// launch that always fails produces exactly 3 invocations, and the
// last failure surfaces as the record's terminal error.
func TestRetryWithBackoff(t *testing.T) {
	var calls int32
	done := make(chan struct{})

	tpl := newTestTemplate(t, func(ctx context.Context, lc LaunchContext) (any, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 3 {
			close(done)
		}
		return nil, errors.New("boom")
	}, WithRetry(RetryPolicy{Retries: 2, Factor: 2, MinTimeout: 20 * time.Millisecond, MaxTimeout: 200 * time.Millisecond}))

	mgr := NewTaskManager(tpl, "0", nil)
	start := time.Now()
	mgr.Update(nil, "a")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected 3 launches, timed out")
	}

	elapsed := time.Since(start)
	// delays: attempt1 -> 1*2*20=40ms, attempt2 -> 2*2*20=80ms; total >= 120ms
	if elapsed < 100*time.Millisecond {
		t.Fatalf("expected backoff delays to elapse, only took %v", elapsed)
	}

	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected exactly 3 launches, got %d", calls)
	}

	// Manager should clear its active record once the retry loop
	// finishes, whether successful or not.
	time.Sleep(20 * time.Millisecond)
	mgr.mu.Lock()
	active := mgr.active
	mgr.mu.Unlock()
	if active != nil {
		t.Fatal("expected active record to clear after retries exhausted")
	}
}

// TestRetriesZero covers the boundary behavior: retries=0 means
// exactly one launch, and failure resolves without a sleep.
func TestRetriesZero(t *testing.T) {
	var calls int32
	done := make(chan struct{})

	tpl := newTestTemplate(t, func(ctx context.Context, lc LaunchContext) (any, error) {
		atomic.AddInt32(&calls, 1)
		close(done)
		return nil, errors.New("boom")
	}, WithRetry(RetryPolicy{Retries: 0, Factor: 2, MinTimeout: 500 * time.Millisecond, MaxTimeout: time.Second}))

	mgr := NewTaskManager(tpl, "0", nil)
	start := time.Now()
	mgr.Update(nil, "a")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("launch never invoked")
	}

	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("expected no sleep before the first attempt, took %v", elapsed)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly one launch, got %d", calls)
	}
}

// TestPersistentRelaunchesOnSuccess covers spec §8 scenario 4: a
// persistent template relaunches indefinitely after a successful
// return, and stops within one scheduling cycle once the parent signal
// fires.
func TestPersistentRelaunchesOnSuccess(t *testing.T) {
	var calls int32

	tpl := newTestTemplate(t, func(ctx context.Context, lc LaunchContext) (any, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(5 * time.Millisecond)
		return nil, nil
	}, WithPersistent(true), WithInitialRun(true))

	mgr := NewTaskManager(tpl, "0", nil)
	mgr.Update(nil, "a")

	time.Sleep(60 * time.Millisecond)
	if atomic.LoadInt32(&calls) < 3 {
		t.Fatalf("expected several relaunches, got %d", calls)
	}

	tpl.ParentCancel.Cancel()
	time.Sleep(20 * time.Millisecond)
	n := atomic.LoadInt32(&calls)
	time.Sleep(40 * time.Millisecond)
	if atomic.LoadInt32(&calls) > n+1 {
		t.Fatal("expected persistent loop to stop shortly after parent cancellation")
	}
}

// TestPersistentRequiresInitialRun covers the configuration-error
// taxonomy entry in spec §7: persistent && !initialRun is rejected at
// construction.
func TestPersistentRequiresInitialRun(t *testing.T) {
	_, err := NewTaskTemplate("bad", func(ctx context.Context, lc LaunchContext) (any, error) {
		return nil, nil
	}, NewRootSignal(context.Background()), WithPersistent(true), WithInitialRun(false))

	if !errors.Is(err, ErrInvalidTemplate) {
		t.Fatalf("expected ErrInvalidTemplate, got %v", err)
	}
}

// TestNonInterruptibleQueuesOneUpdate exercises the non-interruptible
// branch of the update policy: a second Update waits for the first to
// drain rather than cancelling it, and a third concurrent Update while
// one is already queued is dropped.
func TestNonInterruptibleQueuesOneUpdate(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	launchStarted := make(chan any, 4)

	tpl := newTestTemplate(t, func(ctx context.Context, lc LaunchContext) (any, error) {
		atomic.AddInt32(&calls, 1)
		launchStarted <- lc.Data
		<-release
		return "ok", nil
	}, WithInterruptible(false))

	mgr := NewTaskManager(tpl, "0", nil)
	mgr.Update(nil, "a")

	select {
	case <-launchStarted:
	case <-time.After(time.Second):
		t.Fatal("first launch never started")
	}

	secondDone := make(chan struct{})
	go func() {
		mgr.Update(nil, "b")
		close(secondDone)
	}()
	// Give the second updater time to claim the queued slot.
	time.Sleep(30 * time.Millisecond)

	thirdDone := make(chan struct{})
	go func() {
		mgr.Update(nil, "c")
		close(thirdDone)
	}()

	select {
	case <-thirdDone:
	case <-time.After(time.Second):
		t.Fatal("third update (dropped) should return promptly")
	}

	close(release)

	select {
	case <-secondDone:
	case <-time.After(time.Second):
		t.Fatal("second update never returned")
	}

	select {
	case data := <-launchStarted:
		assertEqual(t, data, "b")
	case <-time.After(time.Second):
		t.Fatal("second launch never started")
	}

	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected exactly 2 launches (dropped update contributes none), got %d", calls)
	}
}

// TestTeardownIdempotent covers the idempotent-teardown law: a second
// Teardown call is a no-op, and the teardown hook runs exactly once.
func TestTeardownIdempotent(t *testing.T) {
	var teardownCalls int32

	tpl := newTestTemplate(t, func(ctx context.Context, lc LaunchContext) (any, error) {
		<-ctx.Done()
		return nil, ErrCancelled
	}, WithTeardown(func(ctx context.Context, tc TeardownContext) error {
		atomic.AddInt32(&teardownCalls, 1)
		return nil
	}))

	mgr := NewTaskManager(tpl, "0", nil)
	mgr.Update(nil, "a")
	time.Sleep(10 * time.Millisecond)

	mgr.Teardown(context.Background())
	mgr.Teardown(context.Background())

	if atomic.LoadInt32(&teardownCalls) != 1 {
		t.Fatalf("expected teardown hook to run exactly once, got %d", teardownCalls)
	}
}

// TestTeardownPreventsFurtherLaunches covers the invariant: after
// Teardown returns, no further launch is started, even if Update is
// called afterward.
func TestTeardownPreventsFurtherLaunches(t *testing.T) {
	var calls int32

	tpl := newTestTemplate(t, func(ctx context.Context, lc LaunchContext) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "ok", nil
	})

	mgr := NewTaskManager(tpl, "0", nil)
	mgr.Update(nil, "a")
	time.Sleep(20 * time.Millisecond)

	mgr.Teardown(context.Background())
	n := atomic.LoadInt32(&calls)

	mgr.Update(nil, "b")
	time.Sleep(20 * time.Millisecond)

	if atomic.LoadInt32(&calls) != n {
		t.Fatalf("expected no launch after teardown, calls went from %d to %d", n, calls)
	}
}

// TestCancelledLaunchIsNotRetried ensures a launch that observes
// cancellation and returns an aborted error is not retried, and does
// not surface as a manager-level failure.
func TestCancelledLaunchIsNotRetried(t *testing.T) {
	var calls int32

	tpl := newTestTemplate(t, func(ctx context.Context, lc LaunchContext) (any, error) {
		atomic.AddInt32(&calls, 1)
		lc.Cancel.Cancel()
		<-lc.Cancel.Done()
		return nil, context.Canceled
	}, WithRetry(RetryPolicy{Retries: 5, Factor: 1, MinTimeout: time.Millisecond, MaxTimeout: time.Millisecond}))

	mgr := NewTaskManager(tpl, "0", nil)
	mgr.Update(nil, "a")

	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected cancellation to short-circuit retries, got %d calls", calls)
	}
}
