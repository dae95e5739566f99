// Package app wires configuration into a runnable cronrun instance and
// provides the entry points shared by the cronrun commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/flemzord/cronrun/internal/config"
	"github.com/flemzord/cronrun/internal/cron"
	"github.com/flemzord/cronrun/internal/reload"
)

// LoadConfig finds, loads, defaults and validates the configuration. With
// an empty path and no file in the standard locations the built-in
// defaults are used.
func LoadConfig(path string) (*config.Config, string, error) {
	resolved, err := config.FindPath(path)
	var cfg *config.Config
	switch {
	case errors.Is(err, config.ErrNotFound) && path == "":
		cfg = config.Default()
		resolved = ""
	case err != nil:
		return nil, "", err
	default:
		cfg, err = config.Load(resolved)
		if err != nil {
			return nil, "", err
		}
	}
	cfg.ApplyDefaults(config.DataDir())
	if err := config.Validate(cfg); err != nil {
		return nil, "", err
	}
	return cfg, resolved, nil
}

// Runner is the part of cron.Scheduler driven by RunLoop.
type Runner interface {
	Run(ctx context.Context, at time.Time, force bool) (map[string]cron.Result, error)
}

// Compile-time interface check.
var _ Runner = (*cron.Scheduler)(nil)

// RunLoop invokes r once at the start of every minute until ctx is done.
// It replaces the system crontab entry when cronrun runs as a service.
func RunLoop(ctx context.Context, clock clockwork.Clock, r Runner, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "loop")

	for {
		now := clock.Now()
		next := now.Truncate(time.Minute).Add(time.Minute)
		timer := clock.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("tick loop stopped")
			return nil
		case <-timer.Chan():
		}

		results, err := r.Run(ctx, next, false)
		if err != nil {
			logger.Error("scheduled run failed", "at", next, "error", err)
			continue
		}
		logger.Debug("tick", "at", next, "jobs", len(results))
	}
}

// ServeOptions selects what Serve runs next to the gateway.
type ServeOptions struct {
	// Tick runs the scheduler every minute in-process.
	Tick bool
	// Gateway starts the HTTP gateway.
	Gateway bool

	// ConfigPath enables job reloads from this file. Empty disables them.
	ConfigPath string
	// Watch polls ConfigPath and reloads when its content changes.
	Watch bool
	// Reload triggers a reload on each receive, e.g. on SIGHUP.
	Reload <-chan struct{}
}

// Serve runs the long-lived parts of a until ctx is cancelled, then shuts
// them down.
func Serve(ctx context.Context, a *App, opts ServeOptions) error {
	if !opts.Tick && !opts.Gateway {
		return fmt.Errorf("app: nothing to serve")
	}

	g, gctx := errgroup.WithContext(ctx)

	if opts.Gateway {
		gw, err := a.Gateway()
		if err != nil {
			return err
		}
		if err := gw.Start(gctx); err != nil {
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			return gw.Stop(context.WithoutCancel(gctx))
		})
	}

	if opts.Tick {
		g.Go(func() error {
			return RunLoop(gctx, a.Clock, a.Scheduler, a.Logger)
		})
	}

	if opts.ConfigPath != "" {
		h := reload.NewHandler(opts.ConfigPath, config.DataDir(), a.Config, a.Registry, a.Logger)
		var changes <-chan struct{}
		if opts.Watch {
			w := reload.NewWatcher(reload.WatcherConfig{Path: opts.ConfigPath, Clock: a.Clock, Logger: a.Logger})
			changes = w.Changes()
			g.Go(func() error { return w.Run(gctx) })
		}
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-opts.Reload:
				case <-changes:
				}
				if err := h.Reload(gctx); err != nil {
					a.Logger.Error("reload failed", "error", err)
				}
			}
		})
	}

	a.Logger.Info("cronrun serving", "tick", opts.Tick, "gateway", opts.Gateway, "jobs", a.Registry.Len())
	err := g.Wait()
	a.Logger.Info("shutdown complete")
	return err
}
