package reload

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/flemzord/cronrun/internal/config"
	"github.com/flemzord/cronrun/internal/cron"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestWatcher_SignalsContentChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cronrun.yaml")
	writeFile(t, path, "version: \"1\"\n")

	clock := clockwork.NewFakeClock()
	w := NewWatcher(WatcherConfig{Path: path, PollInterval: time.Second, Clock: clock})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Same content: no event.
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("BlockUntilContext: %v", err)
	}
	writeFile(t, path, "version: \"1\"\n")
	clock.Advance(time.Second)
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("BlockUntilContext: %v", err)
	}
	select {
	case <-w.Changes():
		t.Fatal("event for unchanged content")
	default:
	}

	writeFile(t, path, "version: \"1\"\njobs: []\n")
	clock.Advance(time.Second)
	select {
	case <-w.Changes():
	case <-time.After(5 * time.Second):
		t.Fatal("no event after content change")
	}
}

func TestWatcher_IgnoresMissingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cronrun.yaml")
	writeFile(t, path, "a")

	clock := clockwork.NewFakeClock()
	w := NewWatcher(WatcherConfig{Path: path, PollInterval: time.Second, Clock: clock})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("BlockUntilContext: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	clock.Advance(time.Second)
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("BlockUntilContext: %v", err)
	}
	select {
	case <-w.Changes():
		t.Fatal("event for missing file")
	default:
	}
}

func newRegistry(t *testing.T) *cron.Registry {
	t.Helper()
	catalog := cron.NewCatalog()
	catalog.MustAdd(cron.JobType{
		Name:            "noop",
		DefaultSchedule: "0 * * * *",
		New: func(spec cron.JobSpec, _ cron.Env) (cron.Job, error) {
			return cron.NewJob(spec.Name, spec.Schedule, func(context.Context) (bool, error) { return true, nil }, spec.Options()...), nil
		},
	})
	return cron.NewRegistry(cron.RegistryConfig{Catalog: catalog, Location: time.UTC})
}

func TestHandler_Reload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "cronrun.yaml")
	writeFile(t, path, `
version: "1"
jobs:
  - type: noop
    name: a
`)
	current, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	current.ApplyDefaults(dir)

	registry := newRegistry(t)
	if err := registry.RegisterTypes(config.Resolve(current)); err != nil {
		t.Fatalf("RegisterTypes: %v", err)
	}
	h := NewHandler(path, dir, current, registry, nil)

	writeFile(t, path, `
version: "1"
jobs:
  - type: noop
    name: b
  - type: noop
    name: c
    schedule: "*/5 * * * *"
`)
	if err := h.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := registry.Names(); !slices.Equal(got, []string{"b", "c"}) {
		t.Errorf("names = %v, want [b c]", got)
	}

	// An invalid file keeps the running jobs.
	writeFile(t, path, `
version: "1"
jobs:
  - type: noop
    name: d
    schedule: "not a schedule"
`)
	if err := h.Reload(context.Background()); err == nil {
		t.Fatal("expected validation error")
	}
	if got := registry.Names(); !slices.Equal(got, []string{"b", "c"}) {
		t.Errorf("names after failed reload = %v, want [b c]", got)
	}

	writeFile(t, path, `
version: "1"
jobs:
  - type: unknown
`)
	if err := h.Reload(context.Background()); err == nil {
		t.Fatal("expected unknown type error")
	}
	if registry.Len() != 2 {
		t.Errorf("len = %d, want 2", registry.Len())
	}
}

func TestRestartRequired(t *testing.T) {
	t.Parallel()

	parse := func(src string) *config.Config {
		cfg, err := config.Parse([]byte(src))
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		return cfg
	}

	prev := parse(`
version: "1"
gateway:
  bind: 127.0.0.1:8080
jobs: []
`)
	// Moving the gateway section down changes node line numbers only.
	next := parse(`
version: "1"
jobs:
  - type: noop
gateway:
  bind: 127.0.0.1:8080
`)
	if got := RestartRequired(prev, next); len(got) != 0 {
		t.Errorf("RestartRequired = %v, want none", got)
	}

	next = parse(`
version: "1"
locks:
  backend: sqlite
gateway:
  bind: 127.0.0.1:9090
`)
	if got := RestartRequired(prev, next); !slices.Equal(got, []string{"locks", "gateway"}) {
		t.Errorf("RestartRequired = %v, want [locks gateway]", got)
	}
}
