package cron

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/flemzord/cronrun/internal/cronexpr"
)

// UpcomingRuns is how many future run times a JobInfo snapshot carries.
const UpcomingRuns = 5

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9\-_:]+$`)

// ValidateName reports whether name is a valid job name.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// JobInfo is the introspection snapshot taken when a job is registered.
type JobInfo struct {
	Name                string         `json:"name"`
	Type                string         `json:"type"`
	Description         string         `json:"description,omitempty"`
	Schedule            string         `json:"schedule"`
	ScheduleDescription string         `json:"schedule_description"`
	Enabled             bool           `json:"enabled"`
	Timeout             time.Duration  `json:"timeout"`
	Priority            int            `json:"priority"`
	Concurrent          bool           `json:"concurrent"`
	Metadata            map[string]any `json:"metadata,omitempty"`
	RegisteredAt        time.Time      `json:"registered_at"`
	NextRun             time.Time      `json:"next_run"`
	Upcoming            []time.Time    `json:"upcoming,omitempty"`
}

// Summary aggregates the registry for observability.
type Summary struct {
	Total      int `json:"total"`
	Enabled    int `json:"enabled"`
	Disabled   int `json:"disabled"`
	Concurrent int `json:"concurrent"`
	// NextJob and NextRun name the soonest upcoming enabled run.
	NextJob string    `json:"next_job,omitempty"`
	NextRun time.Time `json:"next_run"`
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Catalog resolves JobSpec types for RegisterType.
	Catalog *Catalog
	// Env is passed to catalog constructors.
	Env    Env
	Clock  clockwork.Clock
	Logger *slog.Logger
	// Location is the time zone schedules are evaluated in. Defaults to
	// time.Local.
	Location *time.Location
}

// RegisterOption configures one registration.
type RegisterOption func(*registerOptions)

type registerOptions struct {
	override bool
}

// WithOverride lets a registration replace a job of the same name.
func WithOverride() RegisterOption {
	return func(o *registerOptions) { o.override = true }
}

type entry struct {
	job Job
	// source is the schedule string expr was parsed from.
	source string
	expr   *cronexpr.Expression
	info   JobInfo
}

// Registry holds the jobs known to a scheduler.
type Registry struct {
	mu      sync.RWMutex
	entries []*entry
	byName  map[string]*entry

	catalog *Catalog
	env     Env
	clock   clockwork.Clock
	logger  *slog.Logger
	loc     *time.Location
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	r := &Registry{
		byName:  make(map[string]*entry),
		catalog: cfg.Catalog,
		env:     cfg.Env,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		loc:     cfg.Location,
	}
	if r.catalog == nil {
		r.catalog = NewCatalog()
	}
	if r.clock == nil {
		r.clock = clockwork.NewRealClock()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.loc == nil {
		r.loc = time.Local
	}
	r.logger = r.logger.With("component", "registry")
	return r
}

// Catalog returns the catalog used by RegisterType.
func (r *Registry) Catalog() *Catalog { return r.catalog }

// Location returns the time zone schedules are evaluated in.
func (r *Registry) Location() *time.Location { return r.loc }

// Register validates and adds job. Without WithOverride a duplicate name
// is rejected; with it the existing job is replaced in place, keeping its
// position for priority ties.
func (r *Registry) Register(job Job, opts ...RegisterOption) error {
	return r.register(job, "", opts)
}

// RegisterMany registers every job and returns the joined errors of those
// that were rejected.
func (r *Registry) RegisterMany(jobs []Job, opts ...RegisterOption) error {
	var errs []error
	for _, j := range jobs {
		if err := r.Register(j, opts...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RegisterType builds a job from the catalog and registers it.
func (r *Registry) RegisterType(spec JobSpec, opts ...RegisterOption) error {
	job, err := r.catalog.New(spec, r.env)
	if err != nil {
		return err
	}
	return r.register(job, spec.Type, opts)
}

// RegisterTypes registers every spec and returns the joined errors.
func (r *Registry) RegisterTypes(specs []JobSpec, opts ...RegisterOption) error {
	var errs []error
	for _, s := range specs {
		if err := r.RegisterType(s, opts...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ReplaceTypes swaps the registered jobs for those built from specs. The
// swap is all or nothing: on any error the current jobs stay registered.
func (r *Registry) ReplaceTypes(specs []JobSpec) error {
	next := &Registry{
		byName:  make(map[string]*entry),
		catalog: r.catalog,
		env:     r.env,
		clock:   r.clock,
		logger:  r.logger,
		loc:     r.loc,
	}
	if err := next.RegisterTypes(specs); err != nil {
		return err
	}

	r.mu.Lock()
	r.entries, r.byName = next.entries, next.byName
	r.mu.Unlock()

	r.logger.Info("cron: jobs replaced", "jobs", len(next.entries))
	return nil
}

// Unregister removes the job called name and reports whether it existed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byName[name]
	if !ok {
		return false
	}
	delete(r.byName, name)
	r.entries = slices.DeleteFunc(r.entries, func(x *entry) bool { return x == e })
	return true
}

func (r *Registry) register(job Job, typeName string, opts []RegisterOption) error {
	var o registerOptions
	for _, opt := range opts {
		opt(&o)
	}

	if job == nil {
		return &RegistrationError{Type: typeName, Err: ErrNilJob}
	}
	name := job.Name()
	fail := func(err error) error {
		return &RegistrationError{Job: name, Type: typeName, Err: err}
	}

	if err := ValidateName(name); err != nil {
		return fail(err)
	}
	expr, err := cronexpr.Parse(job.Schedule())
	if err != nil {
		return fail(fmt.Errorf("%w: %w", ErrInvalidSchedule, err))
	}
	if job.Timeout() <= 0 {
		return fail(fmt.Errorf("%w: %s", ErrInvalidTimeout, job.Timeout()))
	}
	if p := job.Priority(); p < MinPriority || p > MaxPriority {
		return fail(fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidPriority, p, MinPriority, MaxPriority))
	}

	if typeName == "" {
		typeName = fmt.Sprintf("%T", job)
	}
	e := &entry{job: job, source: job.Schedule(), expr: expr, info: r.snapshot(job, expr, typeName)}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byName[name]; ok {
		if !o.override {
			return fail(ErrDuplicateJob)
		}
		i := slices.Index(r.entries, existing)
		r.entries[i] = e
		r.byName[name] = e
		r.logger.Info("cron: job replaced", "job", name)
		return nil
	}

	r.entries = append(r.entries, e)
	r.byName[name] = e
	r.logger.Debug("cron: job registered", "job", name, "schedule", expr.String(), "priority", job.Priority())
	return nil
}

func (r *Registry) snapshot(job Job, expr *cronexpr.Expression, typeName string) JobInfo {
	now := r.clock.Now().In(r.loc)
	info := JobInfo{
		Name:                job.Name(),
		Type:                typeName,
		Description:         job.Description(),
		Schedule:            expr.String(),
		ScheduleDescription: expr.Describe(),
		Enabled:             job.Enabled(),
		Timeout:             job.Timeout(),
		Priority:            job.Priority(),
		Concurrent:          job.AllowsConcurrent(),
		Metadata:            job.Metadata(),
		RegisteredAt:        now,
		Upcoming:            expr.Upcoming(now, UpcomingRuns),
	}
	if len(info.Upcoming) > 0 {
		info.NextRun = info.Upcoming[0]
	}
	return info
}

// DueJobs returns the enabled jobs due at at, in registration order. A
// job whose schedule no longer parses is excluded and logged at warn level
// on every call so that it does not silently stop running.
func (r *Registry) DueJobs(at time.Time) []Job {
	at = at.In(r.loc)

	r.mu.Lock()
	defer r.mu.Unlock()

	var due []Job
	for _, e := range r.entries {
		if !e.job.Enabled() {
			continue
		}
		if src := e.job.Schedule(); src != e.source {
			expr, err := cronexpr.Parse(src)
			if err != nil {
				r.logger.Warn("cron: job excluded, schedule does not parse",
					"job", e.info.Name,
					"schedule", src,
					"error", err,
				)
				continue
			}
			e.source, e.expr = src, expr
		}
		if e.expr.IsDue(at) {
			due = append(due, e.job)
		}
	}
	return due
}

// JobsByPriority returns jobs sorted by ascending priority; ties keep
// registration order.
func (r *Registry) JobsByPriority(enabledOnly bool) []Job {
	r.mu.RLock()
	jobs := make([]Job, 0, len(r.entries))
	for _, e := range r.entries {
		if enabledOnly && !e.job.Enabled() {
			continue
		}
		jobs = append(jobs, e.job)
	}
	r.mu.RUnlock()

	SortByPriority(jobs)
	return jobs
}

// SortByPriority stably sorts jobs by ascending priority.
func SortByPriority(jobs []Job) {
	slices.SortStableFunc(jobs, func(a, b Job) int { return cmp.Compare(a.Priority(), b.Priority()) })
}

// Get returns the job called name.
func (r *Registry) Get(name string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return e.job, true
}

// Info returns the registration snapshot of the job called name.
func (r *Registry) Info(name string) (JobInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	if !ok {
		return JobInfo{}, false
	}
	return e.info, true
}

// HasJob reports whether a job called name is registered.
func (r *Registry) HasJob(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Len returns the number of registered jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Names returns job names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.info.Name
	}
	return names
}

// AllMetadata returns every registration snapshot in registration order.
func (r *Registry) AllMetadata() []JobInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]JobInfo, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.info
	}
	return out
}

// Summary aggregates the registry.
func (r *Registry) Summary() Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var s Summary
	for _, e := range r.entries {
		s.Total++
		if e.job.Enabled() {
			s.Enabled++
			if !e.info.NextRun.IsZero() && (s.NextRun.IsZero() || e.info.NextRun.Before(s.NextRun)) {
				s.NextRun = e.info.NextRun
				s.NextJob = e.info.Name
			}
		} else {
			s.Disabled++
		}
		if e.job.AllowsConcurrent() {
			s.Concurrent++
		}
	}
	return s
}
