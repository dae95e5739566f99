// Package cron decides which jobs are due, runs them under cross-process
// locks and reports a Result per job. It has no timer of its own: a
// Scheduler.Run call is one tick, and an external trigger (systemd timer,
// crontab, the serve loop) is expected to call it about once a minute.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"
)

// LevelCritical is the slog level used for operator-visible events that can
// break mutual exclusion, such as forced lock release.
const LevelCritical = slog.Level(12)

// Job defaults applied by NewJob.
const (
	DefaultTimeout  = 5 * time.Minute
	DefaultPriority = 50
	MinPriority     = 0
	MaxPriority     = 100
)

// Job is the contract every scheduled task fulfills.
type Job interface {
	// Name uniquely identifies the job. It must match [a-zA-Z0-9\-_:]+.
	Name() string

	// Description is free text shown by list and describe commands.
	Description() string

	// Schedule returns a 5-field cron expression (e.g., "*/5 * * * *").
	Schedule() string

	// Enabled reports whether the job takes part in due-job selection.
	Enabled() bool

	// Timeout bounds one execution and is also the job lock timeout.
	Timeout() time.Duration

	// Priority orders due jobs within a run; lower runs first.
	Priority() int

	// AllowsConcurrent reports whether overlapping executions are allowed,
	// in which case no job lock is taken.
	AllowsConcurrent() bool

	// Metadata is free-form key/value data for introspection.
	Metadata() map[string]any

	// Execute runs the job once. A false return without error is a
	// reported failure. Implementations should honor ctx cancellation.
	Execute(ctx context.Context) (bool, error)
}

// HandleFunc is the body of a BaseJob.
type HandleFunc func(ctx context.Context) (bool, error)

// BaseJob is the default Job implementation: declarative attributes plus a
// HandleFunc. Execute recovers panics raised by the handler.
type BaseJob struct {
	name        string
	description string
	schedule    string
	enabled     bool
	timeout     time.Duration
	priority    int
	concurrent  bool
	metadata    map[string]any
	handle      HandleFunc
}

// Compile-time interface check.
var _ Job = (*BaseJob)(nil)

// JobOption configures a BaseJob.
type JobOption func(*BaseJob)

// WithDescription sets the description.
func WithDescription(d string) JobOption {
	return func(j *BaseJob) { j.description = d }
}

// WithEnabled sets the enabled flag.
func WithEnabled(enabled bool) JobOption {
	return func(j *BaseJob) { j.enabled = enabled }
}

// WithTimeout sets the execution timeout. Non-positive values are kept so
// that registration can reject them.
func WithTimeout(d time.Duration) JobOption {
	return func(j *BaseJob) { j.timeout = d }
}

// WithPriority sets the priority.
func WithPriority(p int) JobOption {
	return func(j *BaseJob) { j.priority = p }
}

// WithConcurrent allows overlapping executions.
func WithConcurrent(concurrent bool) JobOption {
	return func(j *BaseJob) { j.concurrent = concurrent }
}

// WithMetadata sets one metadata entry.
func WithMetadata(key string, value any) JobOption {
	return func(j *BaseJob) { j.metadata[key] = value }
}

// NewJob returns a BaseJob that runs handle. It is enabled, not concurrent,
// with DefaultTimeout and DefaultPriority unless opts say otherwise.
func NewJob(name, schedule string, handle HandleFunc, opts ...JobOption) *BaseJob {
	j := &BaseJob{
		name:     name,
		schedule: schedule,
		enabled:  true,
		timeout:  DefaultTimeout,
		priority: DefaultPriority,
		metadata: make(map[string]any),
		handle:   handle,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Name implements Job.
func (j *BaseJob) Name() string { return j.name }

// Description implements Job.
func (j *BaseJob) Description() string { return j.description }

// Schedule implements Job.
func (j *BaseJob) Schedule() string { return j.schedule }

// Enabled implements Job.
func (j *BaseJob) Enabled() bool { return j.enabled }

// Timeout implements Job.
func (j *BaseJob) Timeout() time.Duration { return j.timeout }

// Priority implements Job.
func (j *BaseJob) Priority() int { return j.priority }

// AllowsConcurrent implements Job.
func (j *BaseJob) AllowsConcurrent() bool { return j.concurrent }

// Metadata implements Job. The returned map is a copy.
func (j *BaseJob) Metadata() map[string]any { return maps.Clone(j.metadata) }

// Execute implements Job.
func (j *BaseJob) Execute(ctx context.Context) (ok bool, err error) {
	if j.handle == nil {
		return false, fmt.Errorf("cron: job %q: %w", j.name, ErrNoHandler)
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = &PanicError{Value: r, Stack: stack()}
		}
	}()
	return j.handle(ctx)
}
