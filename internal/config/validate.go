package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/flemzord/cronrun/internal/cron"
	"github.com/flemzord/cronrun/internal/cronexpr"
)

// Validate checks the structural validity of a Config and returns every
// problem found joined together. Job types are resolved later, at
// registration, against the job catalog.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	errs = append(errs, validateLog(cfg.Log)...)
	errs = append(errs, validateScheduler(cfg.Scheduler)...)
	errs = append(errs, validateLocks(cfg.Locks)...)
	errs = append(errs, validateJobs(cfg.Jobs)...)

	if cfg.History.Retention < 0 {
		errs = append(errs, errors.New("config: history.retention must not be negative"))
	}
	errs = append(errs, validateNotify(cfg.Notify)...)

	return errors.Join(errs...)
}

func validateNotify(n NotifyConfig) []error {
	var errs []error
	if n.URL != "" {
		u, err := url.Parse(n.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("config: notify.url must be an http(s) URL, got %q", n.URL))
		}
	}
	if n.Timeout < 0 {
		errs = append(errs, errors.New("config: notify.timeout must not be negative"))
	}
	return errs
}

func validateLog(l LogConfig) []error {
	var errs []error
	if l.Level != "" {
		if _, err := ParseLevel(l.Level); err != nil {
			errs = append(errs, err)
		}
	}
	switch l.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("config: log.format must be text or json, got %q", l.Format))
	}
	return errs
}

func validateScheduler(s SchedulerConfig) []error {
	var errs []error
	if _, err := s.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.MaxMemoryBytes(); err != nil {
		errs = append(errs, err)
	}
	if s.MaxLoadAverage < 0 {
		errs = append(errs, errors.New("config: scheduler.max_load_average must not be negative"))
	}
	if s.MaxConcurrentJobs < 0 {
		errs = append(errs, errors.New("config: scheduler.max_concurrent_jobs must not be negative"))
	}
	if s.GlobalLockTimeout < 0 {
		errs = append(errs, errors.New("config: scheduler.global_lock_timeout must not be negative"))
	}
	return errs
}

func validateLocks(l LocksConfig) []error {
	switch l.Backend {
	case "", BackendFile, BackendSQLite:
		return nil
	case BackendRedis:
		if l.Redis.Addr == "" {
			return []error{errors.New("config: locks.redis.addr is required for the redis backend")}
		}
		if _, _, err := net.SplitHostPort(l.Redis.Addr); err != nil {
			return []error{fmt.Errorf("config: locks.redis.addr: %w", err)}
		}
		return nil
	case BackendNATS:
		if l.NATS.URL == "" {
			return []error{errors.New("config: locks.nats.url is required for the nats backend")}
		}
		return nil
	default:
		return []error{fmt.Errorf("config: unknown locks.backend %q (file, sqlite, redis, nats)", l.Backend)}
	}
}

func validateJobs(jobs []JobConfig) []error {
	var errs []error
	seen := make(map[string]int, len(jobs))

	for i, j := range jobs {
		if j.Type == "" {
			errs = append(errs, fmt.Errorf("config: jobs[%d]: type is required", i))
			continue
		}
		name := j.Name
		if name == "" {
			name = j.Type
		}
		if err := cron.ValidateName(name); err != nil {
			errs = append(errs, fmt.Errorf("config: jobs[%d]: %w", i, err))
		}
		if first, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("config: jobs[%d]: name %q already used by jobs[%d]", i, name, first))
		} else {
			seen[name] = i
		}
		if j.Schedule != "" {
			if err := cronexpr.Validate(j.Schedule); err != nil {
				errs = append(errs, fmt.Errorf("config: jobs[%d] (%s): %w", i, name, err))
			}
		}
		if j.Timeout < 0 {
			errs = append(errs, fmt.Errorf("config: jobs[%d] (%s): timeout must not be negative", i, name))
		}
		if j.Priority != nil && (*j.Priority < cron.MinPriority || *j.Priority > cron.MaxPriority) {
			errs = append(errs, fmt.Errorf("config: jobs[%d] (%s): priority %d outside [%d, %d]",
				i, name, *j.Priority, cron.MinPriority, cron.MaxPriority))
		}
	}
	return errs
}

// Location loads the configured timezone. Empty means local time.
func (s SchedulerConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: scheduler.timezone: %w", err)
	}
	return loc, nil
}

// MaxMemoryBytes parses the max_memory size. Empty means no limit (0).
func (s SchedulerConfig) MaxMemoryBytes() (uint64, error) {
	if s.MaxMemory == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s.MaxMemory)
	if err != nil {
		return 0, fmt.Errorf("config: scheduler.max_memory: %w", err)
	}
	return n, nil
}

// ParseLevel maps a level name to a slog level. "critical" is accepted as
// an alias for cron.LevelCritical.
func ParseLevel(name string) (slog.Level, error) {
	if name == "critical" {
		return cron.LevelCritical, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("config: log.level: %w", err)
	}
	return lvl, nil
}
