package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/cronrun/internal/config"
	"github.com/flemzord/cronrun/internal/cron"
	"github.com/flemzord/cronrun/internal/gateway"
	"github.com/flemzord/cronrun/internal/history"
	"github.com/flemzord/cronrun/internal/host"
	"github.com/flemzord/cronrun/internal/lock"
	"github.com/flemzord/cronrun/internal/metrics"
	"github.com/flemzord/cronrun/internal/notify"
	"github.com/flemzord/cronrun/internal/redact"
	"github.com/flemzord/cronrun/internal/sqlitedb"
	"github.com/flemzord/cronrun/internal/telemetry"
)

// Options overrides collaborators for tests and embedding. Zero values
// select the real implementations.
type Options struct {
	Version string
	Logger  *slog.Logger
	Clock   clockwork.Clock
	Host    host.Host
	// Catalog defaults to cron.Builtins().
	Catalog *cron.Catalog
	// Liveness overrides the pid probe used for lock staleness.
	Liveness func(pid int) bool
}

// App is a fully wired cronrun instance.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Clock     clockwork.Clock
	Host      host.Host
	Locks     *lock.Manager
	Registry  *cron.Registry
	Executor  *cron.Executor
	Scheduler *cron.Scheduler
	Metrics   *metrics.Metrics
	Tracer    trace.TracerProvider

	// History is nil when history is disabled.
	History history.Store

	version string
	closers []func(context.Context) error
	// dbs shares one connection per SQLite file between locks and history.
	dbs map[string]*sql.DB
}

// Build wires every component described by cfg. cfg must already carry
// defaults. Jobs that fail to register are reported together; the App is
// closed on error.
func Build(ctx context.Context, cfg *config.Config, opts Options) (_ *App, err error) {
	a := &App{
		Config:  cfg,
		Logger:  opts.Logger,
		Clock:   opts.Clock,
		Host:    opts.Host,
		version: opts.Version,
		dbs:     make(map[string]*sql.DB),
	}
	if a.Logger == nil {
		a.Logger = slog.Default()
	}
	if a.Clock == nil {
		a.Clock = clockwork.NewRealClock()
	}
	if a.Host == nil {
		a.Host = host.NewSystem()
	}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return nil, err
	}
	maxMemory, err := cfg.Scheduler.MaxMemoryBytes()
	if err != nil {
		return nil, err
	}

	tp, shutdown, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     opts.Version,
	})
	if err != nil {
		return nil, err
	}
	a.Tracer = tp
	a.closers = append(a.closers, shutdown)
	tracer := tp.Tracer("github.com/flemzord/cronrun")

	store, err := a.openLockStore(ctx, cfg.Locks)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return store.Close() })

	lockOpts := []lock.Option{
		lock.WithClock(a.Clock),
		lock.WithHost(a.Host),
		lock.WithLogger(a.Logger),
	}
	if opts.Liveness != nil {
		lockOpts = append(lockOpts, lock.WithLivenessCheck(opts.Liveness))
	}
	a.Locks = lock.NewManager(store, lockOpts...)

	if cfg.History.Enabled {
		db, err := a.openDB(ctx, cfg.History.Path, history.SQLiteMigration)
		if err != nil {
			return nil, err
		}
		a.History = history.NewSQLiteStore(db)
	}

	a.Metrics = metrics.New(metrics.Config{
		Textfile: cfg.Metrics.Textfile,
		Locks:    a.Locks,
		Clock:    a.Clock,
		Process:  true,
		Logger:   a.Logger,
	})

	catalog := opts.Catalog
	if catalog == nil {
		catalog = cron.Builtins()
	}
	env := cron.Env{
		Logger:           a.Logger,
		Clock:            a.Clock,
		Locks:            a.Locks,
		HistoryRetention: cfg.History.Retention,
	}
	if a.History != nil {
		env.History = a.History
	}
	a.Registry = cron.NewRegistry(cron.RegistryConfig{
		Catalog:  catalog,
		Env:      env,
		Clock:    a.Clock,
		Logger:   a.Logger,
		Location: loc,
	})
	if err := a.Registry.RegisterTypes(config.Resolve(cfg)); err != nil {
		return nil, err
	}

	a.Executor = cron.NewExecutor(cron.ExecutorConfig{
		Locks:             a.Locks,
		Host:              a.Host,
		Clock:             a.Clock,
		Logger:            a.Logger,
		Tracer:            tracer,
		MaxMemory:         maxMemory,
		MaxConcurrentJobs: cfg.Scheduler.MaxConcurrentJobs,
		Verbose:           cfg.Scheduler.Verbose,
	})

	recorders := []cron.Recorder{a.Metrics}
	if a.History != nil {
		recorders = append(recorders, history.Recorder(a.History))
	}
	if cfg.Notify.URL != "" {
		recorders = append(recorders, notify.NewWebhook(notify.Config{
			URL:          cfg.Notify.URL,
			Secret:       cfg.Notify.Secret,
			OnlyFailures: cfg.Notify.OnlyFailures,
			Timeout:      cfg.Notify.Timeout,
			Logger:       a.Logger,
		}))
	}
	a.Scheduler = cron.NewScheduler(cron.SchedulerConfig{
		Registry:          a.Registry,
		Executor:          a.Executor,
		Locks:             a.Locks,
		Host:              a.Host,
		Clock:             a.Clock,
		Logger:            a.Logger,
		Tracer:            tracer,
		GlobalLockTimeout: cfg.Scheduler.GlobalLockTimeout,
		CleanupStaleLocks: cfg.Scheduler.CleanupStaleLocks == nil || *cfg.Scheduler.CleanupStaleLocks,
		MaxLoadAverage:    cfg.Scheduler.MaxLoadAverage,
		MaxMemory:         maxMemory,
		Recorders:         recorders,
	})

	return a, nil
}

// Gateway builds the diagnostics gateway from the gateway config section.
func (a *App) Gateway() (*gateway.Gateway, error) {
	g := gateway.New(gateway.Deps{
		Scheduler: a.Scheduler,
		Executor:  a.Executor,
		Locks:     a.Locks,
		History:   a.History,
		Metrics:   a.Metrics.Handler(),
		Clock:     a.Clock,
		Logger:    a.Logger,
	})
	if err := g.Configure(&a.Config.Gateway); err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Version returns the version the App was built with.
func (a *App) Version() string { return a.version }

// Close releases stores and flushes telemetry, in reverse build order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// openLockStore opens the lock backend selected by cfg.
func (a *App) openLockStore(ctx context.Context, cfg config.LocksConfig) (lock.Store, error) {
	switch cfg.Backend {
	case "", config.BackendFile:
		return lock.NewFileStore(cfg.Dir)
	case config.BackendSQLite:
		db, err := a.openDB(ctx, cfg.Path, lock.SQLiteMigration)
		if err != nil {
			return nil, err
		}
		return lock.NewSQLiteStore(db), nil
	case config.BackendRedis:
		return lock.OpenRedisStore(ctx, lock.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
	case config.BackendNATS:
		return lock.OpenNATSStore(ctx, cfg.NATS.URL, cfg.NATS.Bucket)
	default:
		return nil, fmt.Errorf("app: unknown lock backend %q", cfg.Backend)
	}
}

// openDB returns the connection for path, opening it on first use, and
// applies m.
func (a *App) openDB(ctx context.Context, path string, m sqlitedb.Migration) (*sql.DB, error) {
	if db, ok := a.dbs[path]; ok {
		return db, sqlitedb.Migrate(ctx, db, m)
	}
	db, err := sqlitedb.Open(ctx, path, m)
	if err != nil {
		return nil, err
	}
	a.dbs[path] = db
	a.closers = append(a.closers, func(context.Context) error { return db.Close() })
	return db, nil
}

// NewLogger builds the slog logger described by cfg.Log. Credentials found
// in cfg are redacted from every record.
func NewLogger(w io.Writer, cfg *config.Config) (*slog.Logger, error) {
	level := slog.LevelInfo
	if cfg.Log.Level != "" {
		l, err := config.ParseLevel(cfg.Log.Level)
		if err != nil {
			return nil, err
		}
		level = l
	}
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: levelNames}

	var h slog.Handler
	switch cfg.Log.Format {
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("app: unknown log format %q", cfg.Log.Format)
	}
	return slog.New(redact.NewHandler(h, redact.New(config.Secrets(cfg)...))), nil
}

// levelNames prints cron.LevelCritical as CRITICAL instead of ERROR+4.
func levelNames(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok && lvl >= cron.LevelCritical {
		a.Value = slog.StringValue("CRITICAL")
	}
	return a
}
