// Package gateway serves the cronrun diagnostics API: health, scheduler
// status, jobs, locks, run history, Prometheus metrics and a live lock feed
// over WebSocket. It binds to loopback by default.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/cronrun/internal/cron"
	"github.com/flemzord/cronrun/internal/history"
	"github.com/flemzord/cronrun/internal/lock"
)

// Deps are the components the gateway reports on. Scheduler, Executor and
// Locks are required.
type Deps struct {
	Scheduler *cron.Scheduler
	Executor  *cron.Executor
	Locks     *lock.Manager

	// History is optional; /api/history answers 404 without it.
	History history.Store

	// Metrics is optional; /metrics is not mounted without it.
	Metrics http.Handler

	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Gateway is the HTTP diagnostics server.
type Gateway struct {
	config  Config
	deps    Deps
	logger  *slog.Logger
	clock   clockwork.Clock
	metrics *Metrics

	mu        sync.Mutex
	server    *http.Server
	listener  net.Listener
	startedAt time.Time
}

// New returns a gateway with default configuration.
func New(deps Deps) *Gateway {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	g := &Gateway{
		deps:    deps,
		logger:  logger.With("component", "gateway"),
		clock:   clock,
		metrics: &Metrics{},
	}
	g.config.defaults()
	return g
}

// Configure decodes the gateway section of the config file. A nil or empty
// node keeps the defaults.
func (g *Gateway) Configure(node *yaml.Node) error {
	if node != nil && node.Kind != 0 {
		if err := node.Decode(&g.config); err != nil {
			return fmt.Errorf("gateway: decode config: %w", err)
		}
	}
	g.config.defaults()
	return nil
}

// Config returns the effective configuration.
func (g *Gateway) Config() Config { return g.config }

// Metrics returns the gateway's request counters.
func (g *Gateway) Metrics() *Metrics { return g.metrics }

// Validate checks the configuration and dependencies.
func (g *Gateway) Validate() error {
	var errs []error
	if _, err := net.ResolveTCPAddr("tcp", g.config.Bind); err != nil {
		errs = append(errs, errors.New("gateway: invalid bind address: "+g.config.Bind))
	}
	if g.deps.Scheduler == nil || g.deps.Executor == nil || g.deps.Locks == nil {
		errs = append(errs, errors.New("gateway: scheduler, executor and locks are required"))
	}
	for job, t := range g.config.Triggers {
		if t.Secret == "" {
			errs = append(errs, fmt.Errorf("gateway: trigger %q needs a secret", job))
		}
	}
	return errors.Join(errs...)
}

// Handler returns the router. Exposed for tests and embedding.
func (g *Gateway) Handler() http.Handler {
	g.mu.Lock()
	if g.startedAt.IsZero() {
		g.startedAt = g.clock.Now()
	}
	g.mu.Unlock()
	return g.buildRouter()
}

// Start listens on the configured address and serves in the background.
func (g *Gateway) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", g.config.Bind)
	if err != nil {
		return fmt.Errorf("gateway: listen failed: %w", err)
	}

	srv := &http.Server{
		Handler:      g.Handler(),
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	g.mu.Lock()
	g.server = srv
	g.listener = ln
	g.mu.Unlock()

	go func() {
		g.logger.Info("gateway listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (g *Gateway) Addr() net.Addr {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listener == nil {
		return nil
	}
	return g.listener.Addr()
}

// Stop shuts the server down gracefully within the configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	srv := g.server
	g.mu.Unlock()
	if srv == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	return srv.Shutdown(shutdownCtx)
}
