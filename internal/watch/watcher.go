// Package watch implements the file-watching backend the supervisor
// consumes (spec §6: "Watcher interface consumed by the supervisor").
// It watches a configuration file's parent directory — editors commonly
// replace a file via rename-then-create rather than an in-place write,
// which a watch on the file's directory survives and a watch on the
// bare path does not.
package watch

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher emits Ready once, debounced Change events after Ready, and
// Error on unrecoverable backend failures (spec §6). Close stops it.
type Watcher struct {
	path  string
	wait  time.Duration
	inner *fsnotify.Watcher

	ready   chan struct{}
	change  chan struct{}
	errs    chan error
	closeCh chan struct{}
	closed  sync.Once
}

// New constructs a Watcher for the configuration file at path,
// debouncing change notifications by wait.
func New(path string, wait time.Duration) (*Watcher, error) {
	inner, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if err := inner.Add(dir); err != nil {
		inner.Close()
		return nil, err
	}

	w := &Watcher{
		path:    path,
		wait:    wait,
		inner:   inner,
		ready:   make(chan struct{}),
		change:  make(chan struct{}),
		errs:    make(chan error),
		closeCh: make(chan struct{}),
	}

	go w.run()

	return w, nil
}

// Ready fires exactly once, after the watcher has subscribed to the
// filesystem backend and is ready to report changes.
func (w *Watcher) Ready() <-chan struct{} { return w.ready }

// Change fires, debounced by wait, on every modification to path after
// Ready.
func (w *Watcher) Change() <-chan struct{} { return w.change }

// Error fires on unrecoverable backend failures.
func (w *Watcher) Error() <-chan error { return w.errs }

// Close stops the watcher. Safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.closed.Do(func() {
		close(w.closeCh)
		err = w.inner.Close()
	})
	return err
}

func (w *Watcher) run() {
	base := filepath.Base(w.path)

	close(w.ready)

	var (
		debounce *time.Timer
		pending  <-chan time.Time
	)
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-w.closeCh:
			return

		case ev, ok := <-w.inner.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(w.wait)
				pending = debounce.C
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(w.wait)
			}

		case err, ok := <-w.inner.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			case <-w.closeCh:
				return
			}

		case <-pending:
			pending = nil
			select {
			case w.change <- struct{}{}:
			case <-w.closeCh:
				return
			}
		}
	}
}
