package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
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

// Stats are process-local counters over the runs of one Scheduler.
type Stats struct {
	Runs            int           `json:"runs"`
	TotalJobs       int           `json:"total_jobs"`
	Successful      int           `json:"successful"`
	Failed          int           `json:"failed"`
	Skipped         int           `json:"skipped"`
	LastRunAt       time.Time     `json:"last_run_at"`
	LastRunDuration time.Duration `json:"last_run_duration"`
}

// Report describes one completed scheduler run.
type Report struct {
	At         time.Time
	Force      bool
	StartedAt  time.Time
	FinishedAt time.Time
	Results    map[string]Result
}

// Recorder observes completed runs. Errors are logged, never propagated.
type Recorder interface {
	RecordRun(ctx context.Context, r Report) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, r Report) error

// RecordRun implements Recorder.
func (f RecorderFunc) RecordRun(ctx context.Context, r Report) error { return f(ctx, r) }

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Registry *Registry
	Executor *Executor
	Locks    *lock.Manager
	Host     host.Host
	Clock    clockwork.Clock
	Logger   *slog.Logger
	Tracer   trace.Tracer

	// GlobalLockTimeout is the lease timeout of the global lock. Defaults
	// to lock.DefaultTimeout.
	GlobalLockTimeout time.Duration

	// CleanupStaleLocks reclaims stale locks at the start of every run.
	CleanupStaleLocks bool

	// MaxLoadAverage skips the run when the one-minute load average is
	// higher. Zero disables the check.
	MaxLoadAverage float64

	// MaxMemory skips the run when process memory is higher. Zero
	// disables the check.
	MaxMemory uint64

	Recorders []Recorder
}

// Scheduler runs the due jobs of a Registry, one Run per tick.
type Scheduler struct {
	registry  *Registry
	executor  *Executor
	locks     *lock.Manager
	host      host.Host
	clock     clockwork.Clock
	logger    *slog.Logger
	tracer    trace.Tracer
	lockTTL   time.Duration
	cleanup   bool
	maxLoad   float64
	maxMemory uint64
	recorders []Recorder

	mu    sync.Mutex
	stats Stats
}

// NewScheduler creates a Scheduler. Registry, Executor and Locks are
// required.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	s := &Scheduler{
		registry:  cfg.Registry,
		executor:  cfg.Executor,
		locks:     cfg.Locks,
		host:      cfg.Host,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		tracer:    cfg.Tracer,
		lockTTL:   cfg.GlobalLockTimeout,
		cleanup:   cfg.CleanupStaleLocks,
		maxLoad:   cfg.MaxLoadAverage,
		maxMemory: cfg.MaxMemory,
		recorders: cfg.Recorders,
	}
	if s.host == nil {
		s.host = host.NewSystem()
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	if s.lockTTL <= 0 {
		s.lockTTL = lock.DefaultTimeout
	}
	s.logger = s.logger.With("component", "scheduler")
	return s
}

// AddRecorder appends a run recorder.
func (s *Scheduler) AddRecorder(r Recorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorders = append(s.recorders, r)
}

// Registry returns the job registry.
func (s *Scheduler) Registry() *Registry { return s.registry }

// Run executes the jobs due at at (now when zero). With force, an existing
// global lock is removed first.
//
// When another instance holds the global lock, or a pre-flight check
// fails, Run returns an empty map and a nil error. Orchestration failures
// are returned as *SchedulerError after the global lock is released.
func (s *Scheduler) Run(ctx context.Context, at time.Time, force bool) (results map[string]Result, err error) {
	if at.IsZero() {
		at = s.clock.Now()
	}
	startedAt := s.clock.Now()

	ctx, span := s.tracer.Start(ctx, "cron.run",
		trace.WithAttributes(
			attribute.String("cron.at", at.Format(time.RFC3339)),
			attribute.Bool("cron.force", force),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Int("cron.results", len(results)))
		span.End()
	}()

	wrap := func(err error) error { return &SchedulerError{At: at, Force: force, Err: err} }

	if force {
		if _, err := s.locks.ForceRelease(ctx, lock.GlobalName); err != nil {
			return nil, wrap(err)
		}
	}

	acquired, err := s.locks.AcquireGlobal(ctx, s.lockTTL)
	if err != nil {
		return nil, wrap(err)
	}
	if !acquired {
		s.logger.Info("cron: another scheduler instance is running, skipping run", "at", at)
		return map[string]Result{}, nil
	}

	defer func() {
		if relErr := s.locks.ReleaseGlobal(context.WithoutCancel(ctx)); relErr != nil {
			s.logger.Error("cron: global lock release failed", "error", relErr)
			if err == nil {
				results, err = nil, wrap(relErr)
			}
		}
	}()

	results, err = s.run(ctx, at)
	if err != nil {
		s.logger.Error("cron: run failed", "at", at, "force", force, "error", err)
		return nil, wrap(err)
	}

	finishedAt := s.clock.Now()
	s.record(results, startedAt, finishedAt)
	s.notify(ctx, Report{At: at, Force: force, StartedAt: startedAt, FinishedAt: finishedAt, Results: results})
	return results, nil
}

// run covers the steps between acquiring and releasing the global lock.
func (s *Scheduler) run(ctx context.Context, at time.Time) (results map[string]Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			results, err = nil, &PanicError{Value: r, Stack: stack()}
		}
	}()

	if reason := s.preflight(); reason != "" {
		s.logger.Warn("cron: pre-flight check failed, skipping run", "reason", reason)
		return map[string]Result{}, nil
	}

	if s.cleanup {
		n, err := s.locks.CleanupStale(ctx)
		if err != nil {
			return nil, fmt.Errorf("cleanup stale locks: %w", err)
		}
		if n > 0 {
			s.logger.Info("cron: reclaimed stale locks", "count", n)
		}
	}

	due := s.registry.DueJobs(at)
	if len(due) == 0 {
		s.logger.Debug("cron: no jobs due", "at", at)
		return map[string]Result{}, nil
	}

	s.logger.Info("cron: running due jobs", "at", at, "count", len(due))
	return s.executor.ExecuteMany(ctx, due, true), nil
}

// preflight returns a non-empty reason when the host is too busy to run.
func (s *Scheduler) preflight() string {
	if s.maxLoad > 0 {
		load, err := s.host.LoadAverage()
		switch {
		case err != nil:
			if !errors.Is(err, host.ErrUnavailable) {
				s.logger.Debug("cron: load average unreadable, check skipped", "error", err)
			}
		case load > s.maxLoad:
			return fmt.Sprintf("load average %.2f exceeds limit %.2f", load, s.maxLoad)
		}
	}
	if s.maxMemory > 0 {
		if mem := s.host.MemoryUsage(); mem > s.maxMemory {
			return fmt.Sprintf("memory usage %s exceeds limit %s", humanize.IBytes(mem), humanize.IBytes(s.maxMemory))
		}
	}
	return ""
}

func (s *Scheduler) record(results map[string]Result, startedAt, finishedAt time.Time) {
	c := Count(results)

	s.mu.Lock()
	s.stats.Runs++
	s.stats.TotalJobs += len(results)
	s.stats.Successful += c.Success
	s.stats.Failed += c.Failed
	s.stats.Skipped += c.Skipped
	s.stats.LastRunAt = startedAt
	s.stats.LastRunDuration = finishedAt.Sub(startedAt)
	s.mu.Unlock()

	if len(results) > 0 {
		s.logger.Info("cron: run finished",
			"successful", c.Success,
			"failed", c.Failed,
			"skipped", c.Skipped,
			"duration", finishedAt.Sub(startedAt),
		)
	}
}

func (s *Scheduler) notify(ctx context.Context, r Report) {
	s.mu.Lock()
	recorders := append([]Recorder(nil), s.recorders...)
	s.mu.Unlock()

	for _, rec := range recorders {
		if err := rec.RecordRun(ctx, r); err != nil {
			s.logger.Warn("cron: recorder failed", "error", err)
		}
	}
}

// Statistics returns a copy of the run counters.
func (s *Scheduler) Statistics() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// IsRunning reports whether any instance holds a live global lock.
func (s *Scheduler) IsRunning(ctx context.Context) (bool, error) {
	return s.locks.IsGlobalActive(ctx)
}

// ForceUnlockAll removes every lock record. It can let two instances run
// the same job if a holder is still alive.
func (s *Scheduler) ForceUnlockAll(ctx context.Context) (int, error) {
	n, err := s.locks.ForceReleaseAll(ctx)
	if err != nil {
		return n, fmt.Errorf("cron: force unlock: %w", err)
	}
	return n, nil
}
