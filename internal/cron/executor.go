package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/cronrun/internal/host"
	"github.com/flemzord/cronrun/internal/lock"
)

const tracerName = "github.com/flemzord/cronrun/internal/cron"

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	Locks  *lock.Manager
	Host   host.Host
	Clock  clockwork.Clock
	Logger *slog.Logger
	Tracer trace.Tracer

	// MaxMemory skips jobs while process memory exceeds it. Zero disables
	// the check.
	MaxMemory uint64

	// MaxConcurrentJobs caps in-flight executions for ExecuteMany when the
	// limit is respected. Zero means unlimited.
	MaxConcurrentJobs int

	// Verbose adds stack traces to failure logs.
	Verbose bool
}

// Execution describes a job currently running in this process.
type Execution struct {
	Job       string        `json:"job"`
	PID       int           `json:"pid"`
	StartedAt time.Time     `json:"started_at"`
	Timeout   time.Duration `json:"timeout"`
}

// Executor runs jobs one at a time under their job locks.
type Executor struct {
	locks     *lock.Manager
	host      host.Host
	clock     clockwork.Clock
	logger    *slog.Logger
	tracer    trace.Tracer
	maxMemory uint64
	maxJobs   int
	verbose   bool

	mu        sync.Mutex
	executing map[string]Execution

	// inFlight counts job goroutines that have not returned, including
	// those abandoned after a timeout.
	inFlight atomic.Int64
}

// NewExecutor creates an Executor. Locks is required.
func NewExecutor(cfg ExecutorConfig) *Executor {
	e := &Executor{
		locks:     cfg.Locks,
		host:      cfg.Host,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		tracer:    cfg.Tracer,
		maxMemory: cfg.MaxMemory,
		maxJobs:   cfg.MaxConcurrentJobs,
		verbose:   cfg.Verbose,
		executing: make(map[string]Execution),
	}
	if e.host == nil {
		e.host = host.NewSystem()
	}
	if e.clock == nil {
		e.clock = clockwork.NewRealClock()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	e.logger = e.logger.With("component", "executor")
	return e
}

// Executing returns the jobs currently running in this process.
func (e *Executor) Executing() []Execution {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Execution, 0, len(e.executing))
	for _, x := range e.executing {
		out = append(out, x)
	}
	return out
}

// IsExecuting reports whether the job called name is running in this process.
func (e *Executor) IsExecuting(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.executing[name]
	return ok
}

// InFlight returns the number of job goroutines that have not returned.
func (e *Executor) InFlight() int { return int(e.inFlight.Load()) }

// Execute runs job once. Disabled jobs (unless force), memory pressure,
// an execution already running in this process or a held job lock all
// yield a skipped Result without invoking the job. The job lock is
// released before Execute returns whatever the outcome.
func (e *Executor) Execute(ctx context.Context, job Job, force bool) Result {
	name := job.Name()
	ctx, span := e.tracer.Start(ctx, "cron.job",
		trace.WithAttributes(
			attribute.String("cron.job", name),
			attribute.Int("cron.priority", job.Priority()),
			attribute.Bool("cron.force", force),
		))
	defer span.End()

	res := e.execute(ctx, job, force)

	span.SetAttributes(attribute.String("cron.status", res.Status()))
	if res.Status() == StatusFailed {
		span.SetStatus(codes.Error, res.Message)
		if res.Err != nil {
			span.RecordError(res.Err)
		}
	}
	return res
}

func (e *Executor) execute(ctx context.Context, job Job, force bool) Result {
	name := job.Name()
	res := Result{
		Job:         name,
		StartedAt:   e.clock.Now(),
		StartMemory: e.host.MemoryUsage(),
	}
	skip := func(msg string) Result {
		res.Skipped = true
		res.Message = msg
		res.FinishedAt = e.clock.Now()
		res.EndMemory = res.StartMemory
		e.logger.Debug("cron: job skipped", "job", name, "reason", msg)
		return res
	}

	if !force && !job.Enabled() {
		return skip("job is disabled")
	}
	if e.maxMemory > 0 && res.StartMemory > e.maxMemory {
		return skip(fmt.Sprintf("memory usage %s exceeds limit %s",
			humanize.IBytes(res.StartMemory), humanize.IBytes(e.maxMemory)))
	}

	concurrent := job.AllowsConcurrent()
	if !concurrent && e.IsExecuting(name) {
		return skip("job is already executing in this process")
	}

	if !concurrent {
		ok, err := e.locks.AcquireJob(ctx, name, job.Timeout())
		if err != nil {
			e.logger.Error("cron: job lock failed", "job", name, "error", err)
			res.Message = "could not acquire job lock"
			res.Err = err
			res.FinishedAt = e.clock.Now()
			res.EndMemory = res.StartMemory
			return res
		}
		if !ok {
			return skip("job is locked by another process")
		}
	}

	if !e.track(job, res.StartedAt, concurrent) {
		// Lost a race with another goroutine of this process.
		if !concurrent {
			e.releaseLock(ctx, name)
		}
		return skip("job is already executing in this process")
	}

	if !concurrent {
		defer e.releaseLock(ctx, name)
	}

	// The job stays tracked until its goroutine returns, even past a timeout.
	ok, err := e.run(ctx, job, func() { e.untrack(name, concurrent) })

	res.FinishedAt = e.clock.Now()
	res.EndMemory = e.host.MemoryUsage()
	res.Success = ok && err == nil
	res.Err = err

	switch {
	case res.Success:
		res.Message = "job completed successfully"
		e.logger.Debug("cron: job completed",
			"job", name,
			"duration", res.Duration(),
			"memory_delta", res.MemoryDelta(),
		)
	case err == nil:
		res.Message = "job reported failure"
		e.logger.Warn("cron: job reported failure", "job", name, "duration", res.Duration())
	default:
		res.Message = err.Error()
		e.logFailure(job, err)
	}
	return res
}

// run invokes job under its timeout and calls finished once the job
// goroutine returns. When the deadline passes first, run returns
// ErrJobTimeout and leaves the goroutine to finish on its own; it stays
// counted in InFlight until it does.
func (e *Executor) run(ctx context.Context, job Job, finished func()) (bool, error) {
	jobCtx, cancel := context.WithTimeout(ctx, job.Timeout())
	defer cancel()

	type outcome struct {
		ok  bool
		err error
	}
	done := make(chan outcome, 1)

	e.inFlight.Add(1)
	go func() {
		defer e.inFlight.Add(-1)
		var o outcome
		defer func() {
			if r := recover(); r != nil {
				o = outcome{err: &PanicError{Value: r, Stack: stack()}}
			}
			finished()
			done <- o
		}()
		o.ok, o.err = job.Execute(jobCtx)
	}()

	select {
	case o := <-done:
		return o.ok, o.err
	case <-jobCtx.Done():
		select {
		case o := <-done:
			return o.ok, o.err
		default:
		}
		if ctx.Err() != nil {
			return false, fmt.Errorf("cron: job cancelled: %w", ctx.Err())
		}
		return false, fmt.Errorf("%w after %s", ErrJobTimeout, job.Timeout())
	}
}

func (e *Executor) track(job Job, startedAt time.Time, concurrent bool) bool {
	if concurrent {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.executing[job.Name()]; ok {
		return false
	}
	e.executing[job.Name()] = Execution{
		Job:       job.Name(),
		PID:       e.host.PID(),
		StartedAt: startedAt,
		Timeout:   job.Timeout(),
	}
	return true
}

func (e *Executor) untrack(name string, concurrent bool) {
	if concurrent {
		return
	}
	e.mu.Lock()
	delete(e.executing, name)
	e.mu.Unlock()
}

func (e *Executor) releaseLock(ctx context.Context, name string) {
	// Release even when the run context is already cancelled.
	if err := e.locks.ReleaseJob(context.WithoutCancel(ctx), name); err != nil {
		e.logger.Error("cron: job lock release failed", "job", name, "error", err)
	}
}

func (e *Executor) logFailure(job Job, err error) {
	attrs := []any{
		"job", job.Name(),
		"type", fmt.Sprintf("%T", job),
		"error", err,
	}
	var pe *PanicError
	if errors.As(err, &pe) {
		if file, line, ok := panicSite(pe.Stack); ok {
			attrs = append(attrs, "file", file, "line", line)
		}
		if e.verbose {
			attrs = append(attrs, "stack", string(pe.Stack))
		}
	}
	e.logger.Error("cron: job failed", attrs...)
}

// ExecuteMany runs jobs in ascending priority order (ties keep the given
// order). With respectLimit, jobs are skipped once MaxConcurrentJobs
// executions are in flight. Jobs not yet started when ctx is cancelled are
// reported as skipped.
func (e *Executor) ExecuteMany(ctx context.Context, jobs []Job, respectLimit bool) map[string]Result {
	ordered := make([]Job, len(jobs))
	copy(ordered, jobs)
	SortByPriority(ordered)

	results := make(map[string]Result, len(ordered))
	for _, job := range ordered {
		name := job.Name()
		now := e.clock.Now()
		skipped := func(msg string) Result {
			return Result{Job: name, Skipped: true, Message: msg, StartedAt: now, FinishedAt: now}
		}

		switch {
		case ctx.Err() != nil:
			results[name] = skipped("run cancelled")
		case respectLimit && e.maxJobs > 0 && e.InFlight() >= e.maxJobs:
			e.logger.Warn("cron: concurrency limit reached, skipping job",
				"job", name,
				"in_flight", e.InFlight(),
				"limit", e.maxJobs,
			)
			results[name] = skipped("concurrency limit reached")
		case !job.AllowsConcurrent() && e.IsExecuting(name):
			results[name] = skipped("job is already executing in this process")
		default:
			results[name] = e.Execute(ctx, job, false)
		}
	}
	return results
}
