package tasklifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/eirenewatch/eirenewatch/internal/config"
	"github.com/eirenewatch/eirenewatch/internal/spawn"
)

// LaunchContext carries everything a template's Launch callback needs
// (spec §6).
type LaunchContext struct {
	EntryID string
	TaskID  string
	Attempt int
	First   bool
	Config  *config.Config
	Data    any
	Cancel  *Signal
	Log     *slog.Logger
	Spawn   *spawn.Spawner
}

// TeardownContext carries everything a template's Teardown callback
// needs (spec §6): a spawn helper bound to a fresh task id, with no
// cancellation signal.
type TeardownContext struct {
	Spawn *spawn.Spawner
}

// LaunchFunc is the user-supplied task body (spec §3, §9 "Polymorphism
// over launch"). It is the single point of dynamic dispatch the core
// exposes.
type LaunchFunc func(ctx context.Context, lc LaunchContext) (any, error)

// TeardownFunc is the user-supplied cleanup hook, run once per
// TaskManager.Teardown call.
type TeardownFunc func(ctx context.Context, tc TeardownContext) error

// RetryPolicy bounds the exponential backoff between retries (spec
// §3): Retries >= 0, Factor >= 1 (default 2), MinTimeout (default 1s),
// MaxTimeout (default 30s).
type RetryPolicy struct {
	Retries    int
	Factor     float64
	MinTimeout time.Duration
	MaxTimeout time.Duration
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.Factor < 1 {
		p.Factor = 2
	}
	if p.MinTimeout <= 0 {
		p.MinTimeout = time.Second
	}
	if p.MaxTimeout <= 0 {
		p.MaxTimeout = 30 * time.Second
	}
	return p
}

// backoffDelay computes the k-th inter-attempt delay (k >= 1): the
// spec's law "min(k * factor * minTimeout, maxTimeout)".
func (p RetryPolicy) backoffDelay(attempt int) time.Duration {
	d := time.Duration(float64(attempt) * p.Factor * float64(p.MinTimeout))
	if d > p.MaxTimeout {
		return p.MaxTimeout
	}
	return d
}

// TaskTemplate is an immutable description of a task, shared by
// pointer across every manager of a pool (spec §3, §9
// "Immutability of template").
type TaskTemplate struct {
	Name string
	ID   string

	Launch   LaunchFunc
	Teardown TeardownFunc

	ParentCancel *Signal

	Cwd            string
	ThrottleOutput spawn.OutputThrottle
	Retry          RetryPolicy

	InitialRun    bool
	Interruptible bool
	Persistent    bool
}

// TemplateOption configures a TaskTemplate at construction time.
type TemplateOption func(*TaskTemplate)

// WithID overrides the template's default id, which is its name.
func WithID(id string) TemplateOption {
	return func(t *TaskTemplate) { t.ID = id }
}

// WithTeardown attaches a cleanup hook.
func WithTeardown(fn TeardownFunc) TemplateOption {
	return func(t *TaskTemplate) { t.Teardown = fn }
}

// WithCwd sets the working directory passed to spawned sub-processes.
func WithCwd(cwd string) TemplateOption {
	return func(t *TaskTemplate) { t.Cwd = cwd }
}

// WithThrottleOutput sets the output-rate policy passed to spawn.
func WithThrottleOutput(throttle spawn.OutputThrottle) TemplateOption {
	return func(t *TaskTemplate) { t.ThrottleOutput = throttle }
}

// WithRetry sets the retry policy. Unset fields are defaulted by
// RetryPolicy.normalized at use time.
func WithRetry(policy RetryPolicy) TemplateOption {
	return func(t *TaskTemplate) { t.Retry = policy }
}

// WithInitialRun overrides the default (true): whether the first event
// fires a run.
func WithInitialRun(v bool) TemplateOption {
	return func(t *TaskTemplate) { t.InitialRun = v }
}

// WithInterruptible overrides the default (true): whether a new event
// cancels an in-flight task instead of waiting for it.
func WithInterruptible(v bool) TemplateOption {
	return func(t *TaskTemplate) { t.Interruptible = v }
}

// WithPersistent overrides the default (false): whether the task
// re-launches forever after Launch returns, success or failure.
// Persistent requires InitialRun; NewTaskTemplate rejects any other
// combination.
func WithPersistent(v bool) TemplateOption {
	return func(t *TaskTemplate) { t.Persistent = v }
}

// NewTaskTemplate builds a TaskTemplate, applying defaults and
// validating the Persistent/InitialRun combination (spec §3, §7
// "Configuration error"). parentCancel is the root Signal inherited
// from the supervisor; every task spawned by this template is
// cancelled when it fires.
func NewTaskTemplate(name string, launch LaunchFunc, parentCancel *Signal, opts ...TemplateOption) (*TaskTemplate, error) {
	t := &TaskTemplate{
		Name:          name,
		Launch:        launch,
		ParentCancel:  parentCancel,
		InitialRun:    true,
		Interruptible: true,
		Persistent:    false,
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.ID == "" {
		t.ID = name
	}
	t.Retry = t.Retry.normalized()

	if t.Persistent && !t.InitialRun {
		return nil, ErrInvalidTemplate
	}

	return t, nil
}
