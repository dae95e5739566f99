package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/cronrun/internal/cron"
	"github.com/flemzord/cronrun/internal/history"
	"github.com/flemzord/cronrun/internal/host/hosttest"
	"github.com/flemzord/cronrun/internal/lock"
	"github.com/flemzord/cronrun/internal/metrics"
)

// sunday0200 is 2024-01-07 02:00 UTC.
var sunday0200 = time.Date(2024, 1, 7, 2, 0, 0, 0, time.UTC)

type fixture struct {
	gateway *Gateway
	clock   *clockwork.FakeClock
	locks   *lock.Manager
	history *history.MemoryStore
	runs    map[string]int
	handler http.Handler
}

func mustYAMLNode(t *testing.T, src string) *yaml.Node {
	t.Helper()
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(src), &doc); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if len(doc.Content) == 0 {
		return &yaml.Node{}
	}
	return doc.Content[0]
}

// newFixture builds a gateway over two jobs: "backup" (every minute,
// priority 10) and "report" (daily at 06:00, priority 60).
func newFixture(t *testing.T, cfgYAML string, store lock.Store) *fixture {
	t.Helper()
	if store == nil {
		store = lock.NewMemoryStore()
	}
	f := &fixture{
		clock:   clockwork.NewFakeClockAt(sunday0200),
		history: history.NewMemoryStore(),
		runs:    make(map[string]int),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stub := hosttest.New(1000, "worker-1")
	f.locks = lock.NewManager(store,
		lock.WithClock(f.clock),
		lock.WithHost(stub),
		lock.WithLogger(logger),
		lock.WithLivenessCheck(func(int) bool { return true }),
	)

	registry := cron.NewRegistry(cron.RegistryConfig{Clock: f.clock, Logger: logger, Location: time.UTC})
	handle := func(name string) cron.HandleFunc {
		return func(context.Context) (bool, error) {
			f.runs[name]++
			return true, nil
		}
	}
	if err := registry.RegisterMany([]cron.Job{
		cron.NewJob("backup", "* * * * *", handle("backup"), cron.WithPriority(10)),
		cron.NewJob("report", "0 6 * * *", handle("report"), cron.WithPriority(60)),
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	executor := cron.NewExecutor(cron.ExecutorConfig{Locks: f.locks, Host: stub, Clock: f.clock, Logger: logger})
	scheduler := cron.NewScheduler(cron.SchedulerConfig{
		Registry: registry,
		Executor: executor,
		Locks:    f.locks,
		Host:     stub,
		Clock:    f.clock,
		Logger:   logger,
		Recorders: []cron.Recorder{
			history.Recorder(f.history),
		},
	})

	f.gateway = New(Deps{
		Scheduler: scheduler,
		Executor:  executor,
		Locks:     f.locks,
		History:   f.history,
		Metrics:   metrics.New(metrics.Config{Locks: f.locks, Clock: f.clock}).Handler(),
		Clock:     f.clock,
		Logger:    logger,
	})
	if err := f.gateway.Configure(mustYAMLNode(t, cfgYAML)); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	f.handler = f.gateway.Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body io.Reader, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": {"Bearer " + token}}
}

func bodyContains(t *testing.T, rr *httptest.ResponseRecorder, wants ...string) {
	t.Helper()
	body := rr.Body.String()
	for _, want := range wants {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
}

var errStore = errors.New("store unavailable")

// brokenStore fails every operation.
type brokenStore struct{}

func (brokenStore) Create(context.Context, lock.Lease) (bool, error)     { return false, errStore }
func (brokenStore) Get(context.Context, string) (lock.Lease, error)      { return lock.Lease{}, errStore }
func (brokenStore) Delete(context.Context, string, string) (bool, error) { return false, errStore }
func (brokenStore) List(context.Context) ([]lock.Lease, error)           { return nil, errStore }
func (brokenStore) Close() error                                         { return nil }
