package cron

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jonboulle/clockwork"

	"github.com/flemzord/cronrun/internal/lock"
)

// Built-in job type names.
const (
	TypeLockCleanup  = "lock_cleanup"
	TypeCacheCleanup = "cache_cleanup"
	TypeHistoryPrune = "history_prune"
	TypeCommand      = "command"
)

// Builtins returns a catalog holding the built-in job types.
func Builtins() *Catalog {
	c := NewCatalog()
	c.MustAdd(JobType{
		Name:            TypeLockCleanup,
		Description:     "Reclaim stale scheduler and job locks",
		DefaultSchedule: "*/15 * * * *",
		New:             newLockCleanupJob,
	})
	c.MustAdd(JobType{
		Name:            TypeCacheCleanup,
		Description:     "Delete files older than max_age from a cache directory",
		DefaultSchedule: "0 * * * *",
		New:             newCacheCleanupJob,
	})
	c.MustAdd(JobType{
		Name:            TypeHistoryPrune,
		Description:     "Delete run history older than the retention period",
		DefaultSchedule: "30 3 * * *",
		New:             newHistoryPruneJob,
	})
	c.MustAdd(JobType{
		Name:            TypeCommand,
		Description:     "Run an external command, killed when the job times out",
		New:             newCommandJob,
	})
	return c
}

// LockCleanupJob reclaims stale locks.
type LockCleanupJob struct {
	Locks  *lock.Manager
	Logger *slog.Logger
}

// Run implements HandleFunc.
func (j *LockCleanupJob) Run(ctx context.Context) (bool, error) {
	n, err := j.Locks.CleanupStale(ctx)
	if err != nil {
		return false, err
	}
	if n > 0 {
		j.Logger.Info("cron: reclaimed stale locks", "count", n)
	}
	return true, nil
}

func newLockCleanupJob(spec JobSpec, env Env) (Job, error) {
	if env.Locks == nil {
		return nil, errors.New("lock manager not available")
	}
	j := &LockCleanupJob{Locks: env.Locks, Logger: env.logger()}
	return NewJob(spec.Name, spec.Schedule, j.Run, spec.Options()...), nil
}

// CacheCleanupJob deletes regular files under Dir whose modification time
// is older than MaxAge. When Pattern is set only matching base names are
// considered.
type CacheCleanupJob struct {
	Dir     string
	MaxAge  time.Duration
	Pattern string
	Clock   clockwork.Clock
	Logger  *slog.Logger
}

type cacheCleanupConfig struct {
	Dir     string        `yaml:"dir"`
	MaxAge  time.Duration `yaml:"max_age"`
	Pattern string        `yaml:"pattern"`
}

// Run implements HandleFunc.
func (j *CacheCleanupJob) Run(ctx context.Context) (bool, error) {
	cutoff := j.Clock.Now().Add(-j.MaxAge)
	var (
		removed int
		freed   uint64
	)

	err := filepath.WalkDir(j.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if j.Pattern != "" {
			if ok, _ := filepath.Match(j.Pattern, d.Name()); !ok {
				return nil
			}
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", path, err)
		}
		removed++
		freed += uint64(info.Size())
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("cache cleanup %s: %w", j.Dir, err)
	}

	if removed > 0 {
		j.Logger.Info("cron: cache cleaned",
			"dir", j.Dir,
			"removed", removed,
			"freed", humanize.IBytes(freed),
		)
	}
	return true, nil
}

func newCacheCleanupJob(spec JobSpec, env Env) (Job, error) {
	var cfg cacheCleanupConfig
	if err := spec.Decode(&cfg); err != nil {
		return nil, err
	}
	if cfg.Dir == "" {
		return nil, errors.New("dir is required")
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	if cfg.Pattern != "" {
		if _, err := filepath.Match(cfg.Pattern, ""); err != nil {
			return nil, fmt.Errorf("pattern %q: %w", cfg.Pattern, err)
		}
	}
	j := &CacheCleanupJob{
		Dir:     cfg.Dir,
		MaxAge:  cfg.MaxAge,
		Pattern: cfg.Pattern,
		Clock:   env.clock(),
		Logger:  env.logger(),
	}
	return NewJob(spec.Name, spec.Schedule, j.Run, append(spec.Options(), WithMetadata("dir", cfg.Dir))...), nil
}

// HistoryPruneJob deletes run history older than Retention.
type HistoryPruneJob struct {
	History   HistoryPruner
	Retention time.Duration
	Clock     clockwork.Clock
	Logger    *slog.Logger
}

type historyPruneConfig struct {
	Retention time.Duration `yaml:"retention"`
}

// Run implements HandleFunc.
func (j *HistoryPruneJob) Run(ctx context.Context) (bool, error) {
	n, err := j.History.Prune(ctx, j.Clock.Now().Add(-j.Retention))
	if err != nil {
		return false, err
	}
	if n > 0 {
		j.Logger.Info("cron: pruned run history", "rows", n, "retention", j.Retention)
	}
	return true, nil
}

func newHistoryPruneJob(spec JobSpec, env Env) (Job, error) {
	if env.History == nil {
		return nil, errors.New("run history is not enabled")
	}
	cfg := historyPruneConfig{Retention: 30 * 24 * time.Hour}
	if env.HistoryRetention > 0 {
		cfg.Retention = env.HistoryRetention
	}
	if err := spec.Decode(&cfg); err != nil {
		return nil, err
	}
	if cfg.Retention <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %s", cfg.Retention)
	}
	j := &HistoryPruneJob{
		History:   env.History,
		Retention: cfg.Retention,
		Clock:     env.clock(),
		Logger:    env.logger(),
	}
	return NewJob(spec.Name, spec.Schedule, j.Run, spec.Options()...), nil
}

// maxCommandOutput bounds the output kept for logs and errors.
const maxCommandOutput = 4 << 10

// CommandJob runs an external command. The job context deadline kills the
// process, so the timeout is enforced even for work that ignores signals
// from Go.
type CommandJob struct {
	Args   []string
	Dir    string
	Env    []string
	Logger *slog.Logger
}

type commandConfig struct {
	Command []string `yaml:"command"`
	Dir     string   `yaml:"dir"`
	Env     []string `yaml:"env"`
}

// Run implements HandleFunc. A non-zero exit status is a failure carrying
// the tail of the combined output.
func (j *CommandJob) Run(ctx context.Context) (bool, error) {
	cmd := exec.CommandContext(ctx, j.Args[0], j.Args[1:]...)
	cmd.Dir = j.Dir
	if len(j.Env) > 0 {
		cmd.Env = append(os.Environ(), j.Env...)
	}
	cmd.WaitDelay = 5 * time.Second

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := tail(out.Bytes(), maxCommandOutput)
	if err != nil {
		if ctx.Err() != nil {
			return false, fmt.Errorf("command %s: %w", j.Args[0], ctx.Err())
		}
		return false, fmt.Errorf("command %s: %w: %s", j.Args[0], err, output)
	}
	j.Logger.Debug("cron: command finished", "command", j.Args[0], "output", output)
	return true, nil
}

func tail(b []byte, n int) string {
	b = bytes.TrimSpace(b)
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(b)
}

func newCommandJob(spec JobSpec, env Env) (Job, error) {
	var cfg commandConfig
	if err := spec.Decode(&cfg); err != nil {
		return nil, err
	}
	if len(cfg.Command) == 0 || cfg.Command[0] == "" {
		return nil, errors.New("command is required")
	}
	if spec.Schedule == "" {
		return nil, errors.New("schedule is required")
	}
	j := &CommandJob{Args: cfg.Command, Dir: cfg.Dir, Env: cfg.Env, Logger: env.logger()}
	return NewJob(spec.Name, spec.Schedule, j.Run, append(spec.Options(), WithMetadata("command", cfg.Command[0]))...), nil
}
