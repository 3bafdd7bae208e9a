// Package supervisor wires a watch.Watcher to a tasklifecycle.ManagerPool
// (spec §4.3): on debounced change, read + parse the config, derive the
// data vector, trigger the pool; on shutdown, tear the pool down.
package supervisor

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/eirenewatch/eirenewatch/internal/config"
	"github.com/eirenewatch/eirenewatch/internal/tasklifecycle"
	"github.com/eirenewatch/eirenewatch/internal/watch"
)

// Watcher is the subset of *watch.Watcher the supervisor depends on,
// so tests can substitute a fake backend.
type Watcher interface {
	Ready() <-chan struct{}
	Change() <-chan struct{}
	Error() <-chan error
	Close() error
}

// Supervisor owns the watcher-to-pool wiring and the single shutdown
// path (spec §4.3, §6.4).
type Supervisor struct {
	path    string
	watcher Watcher
	pool    *tasklifecycle.ManagerPool
	root    *tasklifecycle.Signal
	log     *slog.Logger

	shutdownOnce sync.Once
	done         chan struct{}
}

// New builds a Supervisor for the given config path, watcher, pool,
// and root cancellation signal.
func New(path string, watcher Watcher, pool *tasklifecycle.ManagerPool, root *tasklifecycle.Signal, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		path:    path,
		watcher: watcher,
		pool:    pool,
		root:    root,
		log:     log,
		done:    make(chan struct{}),
	}
}

// Run blocks until the root signal fires (e.g. SIGINT/SIGTERM), the
// watcher reports an error, or Shutdown is called, and then returns.
// The root signal and a watcher error after Ready both run Shutdown
// (which acts exactly once); a watcher error before Ready only closes
// the watcher.
//
// Ready() closes once and stays readable forever after, so it must be
// waited on only until it first fires — selecting on it inside the
// steady-state loop would busy-loop reconcile() once the channel is
// closed.
func (s *Supervisor) Run(ctx context.Context) {
	select {
	case <-s.watcher.Ready():
		s.reconcile(ctx)

	case err := <-s.watcher.Error():
		// No slot has ever been reconciled yet, so there is nothing
		// for the pool to tear down: close the watcher and report
		// failure without a full shutdown.
		s.log.Error("watcher failed before ready", "error", err)
		if cerr := s.watcher.Close(); cerr != nil {
			s.log.Warn("error closing watcher", "error", cerr)
		}
		close(s.done)
		return

	case <-s.root.Done():
		s.Shutdown(ctx)
		return
	}

	for {
		select {
		case <-s.watcher.Change():
			s.reconcile(ctx)

		case err := <-s.watcher.Error():
			s.log.Error("watcher failed after ready, shutting down", "error", err)
			s.Shutdown(ctx)
			return

		case <-s.root.Done():
			s.Shutdown(ctx)
			return

		case <-s.done:
			return
		}
	}
}

// reconcile performs one read-parse-derive-trigger pass (spec §6.3).
// Parse failures are logged and never crash the process.
func (s *Supervisor) reconcile(ctx context.Context) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		s.log.Error("failed to read config file", "path", s.path, "error", err)
		return
	}

	cfg, err := config.Parse(raw)
	if err != nil {
		s.log.Error("failed to parse config file", "path", s.path, "error", err)
		return
	}

	data := config.DeriveData(cfg)
	s.pool.Trigger(ctx, cfg, data)
}

// Shutdown initiates graceful shutdown exactly once: closes the
// watcher, fires the root signal, and awaits pool teardown (spec
// §4.3, §6.4's SIGINT/SIGTERM handling).
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.shutdownOnce.Do(func() {
		if err := s.watcher.Close(); err != nil {
			s.log.Warn("error closing watcher", "error", err)
		}
		s.root.Cancel()
		s.pool.Teardown(ctx)
		close(s.done)
	})
}

// compile-time assertion that *watch.Watcher satisfies Watcher.
var _ Watcher = (*watch.Watcher)(nil)
