package cron_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flemzord/cronrun/internal/cron"
)

func TestNewJob_Defaults(t *testing.T) {
	t.Parallel()

	j := cron.NewJob("cleanup", "0 * * * *", func(context.Context) (bool, error) { return true, nil })

	if !j.Enabled() {
		t.Error("new job should be enabled")
	}
	if j.Timeout() != cron.DefaultTimeout {
		t.Errorf("timeout = %v, want %v", j.Timeout(), cron.DefaultTimeout)
	}
	if j.Priority() != cron.DefaultPriority {
		t.Errorf("priority = %d, want %d", j.Priority(), cron.DefaultPriority)
	}
	if j.AllowsConcurrent() {
		t.Error("new job should not allow concurrent execution")
	}
	if j.Name() != "cleanup" || j.Schedule() != "0 * * * *" {
		t.Errorf("name/schedule = %q/%q", j.Name(), j.Schedule())
	}
}

func TestNewJob_Options(t *testing.T) {
	t.Parallel()

	j := cron.NewJob("report", "0 6 * * 1", nil,
		cron.WithDescription("weekly report"),
		cron.WithEnabled(false),
		cron.WithTimeout(90*time.Second),
		cron.WithPriority(10),
		cron.WithConcurrent(true),
		cron.WithMetadata("owner", "ops"),
	)

	if j.Description() != "weekly report" {
		t.Errorf("description = %q", j.Description())
	}
	if j.Enabled() || j.Timeout() != 90*time.Second || j.Priority() != 10 || !j.AllowsConcurrent() {
		t.Errorf("options not applied: %+v", j)
	}

	md := j.Metadata()
	if md["owner"] != "ops" {
		t.Errorf("metadata = %v", md)
	}
	md["owner"] = "changed"
	if j.Metadata()["owner"] != "ops" {
		t.Error("Metadata should return a copy")
	}
}

func TestBaseJob_Execute(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")
	tests := []struct {
		name    string
		handle  cron.HandleFunc
		wantOK  bool
		wantErr error
	}{
		{"success", func(context.Context) (bool, error) { return true, nil }, true, nil},
		{"reported failure", func(context.Context) (bool, error) { return false, nil }, false, nil},
		{"error", func(context.Context) (bool, error) { return false, errBoom }, false, errBoom},
		{"nil handler", nil, false, cron.ErrNoHandler},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ok, err := cron.NewJob("j", "* * * * *", tt.handle).Execute(context.Background())
			if ok != tt.wantOK {
				t.Errorf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestBaseJob_ExecuteRecoversPanic(t *testing.T) {
	t.Parallel()

	j := cron.NewJob("j", "* * * * *", func(context.Context) (bool, error) { panic("kaboom") })
	ok, err := j.Execute(context.Background())
	if ok {
		t.Fatal("panicking job reported success")
	}
	var pe *cron.PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %T %v, want *PanicError", err, err)
	}
	if pe.Value != "kaboom" {
		t.Errorf("panic value = %v", pe.Value)
	}
	if len(pe.Stack) == 0 {
		t.Error("stack not captured")
	}
}

func TestResult_Derived(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 7, 2, 0, 0, 0, time.UTC)
	r := cron.Result{
		Job:         "x",
		Success:     true,
		StartedAt:   start,
		FinishedAt:  start.Add(1500 * time.Millisecond),
		StartMemory: 10 << 20,
		EndMemory:   8 << 20,
	}
	if r.Duration() != 1500*time.Millisecond {
		t.Errorf("duration = %v", r.Duration())
	}
	if r.MemoryDelta() != -(2 << 20) {
		t.Errorf("memory delta = %d", r.MemoryDelta())
	}
	if r.Status() != cron.StatusSuccess {
		t.Errorf("status = %s", r.Status())
	}
}

func TestCount(t *testing.T) {
	t.Parallel()

	c := cron.Count(map[string]cron.Result{
		"a": {Success: true},
		"b": {Skipped: true},
		"c": {},
		"d": {Success: true},
	})
	if c != (cron.Counts{Success: 2, Failed: 1, Skipped: 1}) {
		t.Errorf("counts = %+v", c)
	}
}
