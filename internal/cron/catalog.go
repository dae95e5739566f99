package cron

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/cronrun/internal/lock"
)

// HistoryPruner is the subset of the run history store needed by the
// history_prune job. Defined here to avoid a dependency on the history
// package.
type HistoryPruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Env carries the collaborators job constructors may need.
type Env struct {
	Logger  *slog.Logger
	Clock   clockwork.Clock
	Locks   *lock.Manager
	History HistoryPruner

	// HistoryRetention is the history_prune default. Zero means 30 days.
	HistoryRetention time.Duration
}

func (e Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func (e Env) clock() clockwork.Clock {
	if e.Clock == nil {
		return clockwork.NewRealClock()
	}
	return e.Clock
}

// JobSpec is a declarative job definition, usually read from the config
// file. Nil pointer fields keep the job type's defaults.
type JobSpec struct {
	Type        string
	Name        string
	Description string
	Schedule    string
	Enabled     *bool
	Timeout     time.Duration
	Priority    *int
	Concurrent  bool
	Metadata    map[string]any
	// Config is the type-specific section, decoded by the constructor.
	Config yaml.Node
}

// Decode decodes the type-specific config into v. An absent section
// leaves v untouched.
func (s JobSpec) Decode(v any) error {
	if s.Config.Kind == 0 {
		return nil
	}
	if err := s.Config.Decode(v); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// Options converts the declarative attributes into JobOptions.
func (s JobSpec) Options() []JobOption {
	opts := []JobOption{WithDescription(s.Description), WithConcurrent(s.Concurrent)}
	if s.Enabled != nil {
		opts = append(opts, WithEnabled(*s.Enabled))
	}
	if s.Timeout != 0 {
		opts = append(opts, WithTimeout(s.Timeout))
	}
	if s.Priority != nil {
		opts = append(opts, WithPriority(*s.Priority))
	}
	for k, v := range s.Metadata {
		opts = append(opts, WithMetadata(k, v))
	}
	if s.Type != "" {
		opts = append(opts, WithMetadata("type", s.Type))
	}
	return opts
}

// JobType describes a constructible kind of job.
type JobType struct {
	// Name is the key used in JobSpec.Type (e.g. "lock_cleanup").
	Name string

	// Description is shown by the CLI.
	Description string

	// DefaultSchedule applies when a JobSpec leaves Schedule empty.
	DefaultSchedule string

	// New builds a job from spec. spec.Schedule already carries the
	// default when it was empty.
	New func(spec JobSpec, env Env) (Job, error)
}

// Catalog maps job type names to constructors.
type Catalog struct {
	mu    sync.RWMutex
	types map[string]JobType
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{types: make(map[string]JobType)}
}

// Add registers t. It fails on an empty name, a nil constructor or a
// duplicate name.
func (c *Catalog) Add(t JobType) error {
	if t.Name == "" {
		return fmt.Errorf("cron: job type name must not be empty")
	}
	if t.New == nil {
		return fmt.Errorf("cron: job type %s: New must not be nil", t.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.types[t.Name]; exists {
		return fmt.Errorf("cron: job type already registered: %s", t.Name)
	}
	c.types[t.Name] = t
	return nil
}

// MustAdd is Add that panics on error. Intended for static catalogs.
func (c *Catalog) MustAdd(t JobType) {
	if err := c.Add(t); err != nil {
		panic(err)
	}
}

// Lookup returns the type called name.
func (c *Catalog) Lookup(name string) (JobType, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.types[name]
	return t, ok
}

// Types returns all types sorted by name.
func (c *Catalog) Types() []JobType {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]JobType, 0, len(c.types))
	for _, t := range c.types {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b JobType) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// New builds the job described by spec. Failures are RegistrationErrors
// naming the type.
func (c *Catalog) New(spec JobSpec, env Env) (Job, error) {
	t, ok := c.Lookup(spec.Type)
	if !ok {
		return nil, &RegistrationError{Job: spec.Name, Type: spec.Type, Err: ErrUnknownType}
	}
	if spec.Name == "" {
		spec.Name = t.Name
	}
	if spec.Schedule == "" {
		spec.Schedule = t.DefaultSchedule
	}

	job, err := t.New(spec, env)
	if err != nil {
		return nil, &RegistrationError{Job: spec.Name, Type: spec.Type, Err: err}
	}
	if job == nil {
		return nil, &RegistrationError{Job: spec.Name, Type: spec.Type, Err: ErrNilJob}
	}
	return job, nil
}
