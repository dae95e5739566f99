package cron_test

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/flemzord/cronrun/internal/cron"
	"github.com/flemzord/cronrun/internal/host/hosttest"
	"github.com/flemzord/cronrun/internal/lock"
)

// sunday0159 is 2024-01-07 01:59 UTC, a Sunday.
var sunday0159 = time.Date(2024, 1, 7, 1, 59, 0, 0, time.UTC)

func alive(int) bool { return true }

type harness struct {
	clock     *clockwork.FakeClock
	host      *hosttest.Stub
	store     lock.Store
	locks     *lock.Manager
	registry  *cron.Registry
	executor  *cron.Executor
	scheduler *cron.Scheduler
	logs      *syncBuffer
}

type harnessOption func(*cron.ExecutorConfig, *cron.SchedulerConfig)

func newHarness(t *testing.T, store lock.Store, opts ...harnessOption) *harness {
	t.Helper()
	if store == nil {
		store = lock.NewMemoryStore()
	}
	h := &harness{
		clock: clockwork.NewFakeClockAt(sunday0159),
		host:  hosttest.New(1000, "worker-1"),
		store: store,
		logs:  &syncBuffer{},
	}
	logger := slog.New(slog.NewTextHandler(h.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h.locks = lock.NewManager(store,
		lock.WithClock(h.clock),
		lock.WithHost(h.host),
		lock.WithLogger(logger),
		lock.WithLivenessCheck(alive),
	)
	h.registry = cron.NewRegistry(cron.RegistryConfig{
		Clock:    h.clock,
		Logger:   logger,
		Location: time.UTC,
	})

	ecfg := cron.ExecutorConfig{Locks: h.locks, Host: h.host, Clock: h.clock, Logger: logger}
	scfg := cron.SchedulerConfig{Registry: h.registry, Locks: h.locks, Host: h.host, Clock: h.clock, Logger: logger}
	for _, opt := range opts {
		opt(&ecfg, &scfg)
	}
	h.executor = cron.NewExecutor(ecfg)
	scfg.Executor = h.executor
	h.scheduler = cron.NewScheduler(scfg)
	return h
}

// otherProcess returns a lock manager standing in for a second process
// sharing the same store.
func (h *harness) otherProcess() *lock.Manager {
	return lock.NewManager(h.store,
		lock.WithClock(h.clock),
		lock.WithHost(hosttest.New(2000, "worker-1")),
		lock.WithLivenessCheck(alive),
	)
}

func (h *harness) jobLocked(t *testing.T, name string) bool {
	t.Helper()
	_, err := h.store.Get(context.Background(), lock.JobName(name))
	return err == nil
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
