// Command eirenewatch is the CLI entry point: it wires one supervisor
// per watched configuration path and runs until SIGINT/SIGTERM (spec
// §6.4).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/eirenewatch/eirenewatch/internal/config"
	"github.com/eirenewatch/eirenewatch/internal/diag"
	"github.com/eirenewatch/eirenewatch/internal/logging"
	"github.com/eirenewatch/eirenewatch/internal/metrics"
	"github.com/eirenewatch/eirenewatch/internal/spawn"
	"github.com/eirenewatch/eirenewatch/internal/supervisor"
	"github.com/eirenewatch/eirenewatch/internal/tasklifecycle"
	"github.com/eirenewatch/eirenewatch/internal/watch"
)

const defaultConfigPath = "eirenewatch.yaml"

func main() {
	_ = godotenv.Load()

	diagAddr := flag.String("diag-addr", "", "address for the diagnostics HTTP server (disabled if empty)")
	flag.Parse()

	verbose := os.Getenv(logging.VerboseEnv) == "true"
	logger := logging.New(verbose, os.Stdout)

	paths, err := resolvePaths(flag.Args())
	if err != nil {
		logger.Error("failed to resolve configuration paths", "error", err)
		os.Exit(1)
	}

	root := tasklifecycle.NewRootSignal(context.Background())
	installSignalHandler(root, logger)

	m := metrics.New()

	var wg sync.WaitGroup
	for _, path := range paths {
		path := path
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Each config path gets its own cancellation subtree: a
			// watcher failure on one path must not tear down the
			// others, but SIGINT/SIGTERM on root still cascades to
			// all of them.
			runSupervisor(root.Child(), path, m, logger, *diagAddr)
		}()
	}

	wg.Wait()
	logger.Info("eirenewatch exited")
}

// resolvePaths expands glob entries and defaults to defaultConfigPath
// when no positional arguments are given (spec §6.4). Any entry that
// resolves to no existing file is an error.
func resolvePaths(args []string) ([]string, error) {
	if len(args) == 0 {
		args = []string{defaultConfigPath}
	}

	var out []string
	for _, arg := range args {
		if !containsGlobChar(arg) {
			if _, err := os.Stat(arg); err != nil {
				return nil, fmt.Errorf("missing script: %s", arg)
			}
			out = append(out, arg)
			continue
		}

		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid glob %q: %w", arg, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("missing script: %s", arg)
		}
		sort.Strings(matches)
		out = append(out, matches...)
	}

	return out, nil
}

func containsGlobChar(s string) bool {
	for _, r := range s {
		if r == '*' {
			return true
		}
	}
	return false
}

// installSignalHandler wires SIGINT/SIGTERM to root: the first receipt
// cancels root; subsequent receipts are ignored with a warning (spec
// §6.4).
func installSignalHandler(root *tasklifecycle.Signal, logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		first := true
		for range sigCh {
			if first {
				first = false
				logger.Info("shutdown signal received")
				root.Cancel()
				continue
			}
			logger.Warn("shutdown already in progress, ignoring signal")
		}
	}()
}

// runSupervisor builds a ManagerPool + Supervisor for one configuration
// path and runs it until shutdown.
func runSupervisor(root *tasklifecycle.Signal, path string, m *metrics.Metrics, logger *slog.Logger, diagAddr string) {
	// Seed the template from the initial parse so NewTaskTemplate's
	// validation runs before the watcher starts; subsequent parses
	// reuse the same (immutable) template.
	raw, err := os.ReadFile(path)
	if err != nil {
		logger.Error("failed to read config on startup", "path", path, "error", err)
		return
	}
	cfg, err := config.Parse(raw)
	if err != nil {
		logger.Error("failed to parse config on startup", "path", path, "error", err)
		return
	}

	template, err := tasklifecycle.NewTaskTemplate(
		path,
		launchCommand,
		root,
		tasklifecycle.WithInitialRun(cfg.InitialRunOr(true)),
		tasklifecycle.WithInterruptible(cfg.InterruptibleOr(true)),
		tasklifecycle.WithPersistent(cfg.PersistentOr(false)),
		tasklifecycle.WithRetry(retryPolicyFrom(cfg.Retry)),
		tasklifecycle.WithThrottleOutput(spawn.OutputThrottle{Enabled: true, LinesPerSecond: 50, Burst: 100}),
	)
	if err != nil {
		logger.Error("invalid task template configuration", "path", path, "error", err)
		return
	}

	pool := tasklifecycle.NewManagerPool(template, logger).WithMetrics(m)

	waitMs := cfg.Wait
	if waitMs <= 0 {
		waitMs = config.DefaultWaitMs
	}

	w, err := watch.New(path, time.Duration(waitMs)*time.Millisecond)
	if err != nil {
		logger.Error("failed to start watcher", "path", path, "error", err)
		return
	}

	sup := supervisor.New(path, w, pool, root, logger)

	if diagAddr != "" {
		server := diag.New(diagAddr, pool, m, logger)
		go func() {
			if err := server.ListenAndServe(); err != nil {
				logger.Warn("diagnostics server stopped", "error", err)
			}
		}()
	}

	sup.Run(context.Background())
}

func retryPolicyFrom(r config.RetryConfig) tasklifecycle.RetryPolicy {
	policy := tasklifecycle.RetryPolicy{}
	if r.Retries != nil {
		policy.Retries = *r.Retries
	}
	if r.Factor != nil {
		policy.Factor = *r.Factor
	}
	if r.MinTimeout != nil {
		policy.MinTimeout = time.Duration(*r.MinTimeout) * time.Millisecond
	}
	if r.MaxTimeout != nil {
		policy.MaxTimeout = time.Duration(*r.MaxTimeout) * time.Millisecond
	}
	return policy
}

// launchCommand is the default task body: run the slot's configured
// command as a sub-process via the bound Spawner.
func launchCommand(ctx context.Context, lc tasklifecycle.LaunchContext) (any, error) {
	data, ok := lc.Data.(config.Data)
	if !ok || data.Command == "" {
		lc.Log.Warn("slot has no command configured, skipping launch", "entryID", lc.EntryID)
		return nil, nil
	}
	return lc.Spawn.Run(ctx, data.Command, data.Args...)
}
