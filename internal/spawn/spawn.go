// Package spawn runs sub-processes on behalf of a task template's
// Launch or Teardown callback. It is one of the core's external
// collaborators (spec §1): tasklifecycle only consumes the Spawner
// value handed to it through LaunchContext/TeardownContext.
package spawn

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os/exec"
	"time"

	"golang.org/x/time/rate"
)

// OutputThrottle bounds the rate at which a spawned process's stdout
// and stderr lines are forwarded to the logger, so a noisy child can't
// flood structured logs. The zero value disables throttling.
type OutputThrottle struct {
	Enabled        bool
	LinesPerSecond float64
	Burst          int
}

// Result describes a finished sub-process.
type Result struct {
	ExitCode int
	Duration time.Duration
}

// Spawner is bound to one task id, a working directory, an output
// throttle policy, and a logger (spec §6: "a command-execution helper
// bound to taskId, cancel, cwd, and the template's output throttle" —
// the cancellation binding is the ctx passed to Run, since Spawner
// itself must not import the tasklifecycle cancellation tree).
type Spawner struct {
	TaskID   string
	Cwd      string
	Throttle OutputThrottle
	Log      *slog.Logger
}

// New builds a Spawner for one launch or teardown invocation.
func New(taskID, cwd string, throttle OutputThrottle, log *slog.Logger) *Spawner {
	if log == nil {
		log = slog.Default()
	}
	return &Spawner{TaskID: taskID, Cwd: cwd, Throttle: throttle, Log: log}
}

// Run executes name with args, streaming stdout/stderr lines to the
// logger (rate-limited per Throttle) and returning once the process
// exits or ctx is canceled.
func (s *Spawner) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = s.Cwd

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if s.Throttle.Enabled {
		limiter = rate.NewLimiter(rate.Limit(s.Throttle.LinesPerSecond), s.Throttle.Burst)
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	done := make(chan struct{}, 2)
	go s.pump(ctx, stdout, "stdout", limiter, done)
	go s.pump(ctx, stderr, "stderr", limiter, done)
	<-done
	<-done

	runErr := cmd.Wait()
	if runErr != nil && ctx.Err() != nil {
		// CommandContext kills the process on cancellation and Wait
		// returns the resulting *exec.ExitError ("signal: killed")
		// before ever consulting ctx.Err(); surface the cancellation
		// itself so tasklifecycle.isAborted recognizes it instead of
		// treating it as a genuine task failure.
		runErr = ctx.Err()
	}

	result := &Result{Duration: time.Since(start)}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}
	return result, runErr
}

func (s *Spawner) pump(ctx context.Context, r io.Reader, stream string, limiter *rate.Limiter, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}
		s.Log.Debug("task output", "taskID", s.TaskID, "stream", stream, "line", scanner.Text())
	}
}
