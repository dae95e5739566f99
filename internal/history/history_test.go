package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/flemzord/cronrun/internal/cron"
)

var base = time.Date(2024, 1, 7, 2, 0, 0, 0, time.UTC)

func storeFactories() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(_ *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			t.Helper()
			s, err := OpenSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "history.db"))
			if err != nil {
				t.Fatalf("OpenSQLiteStore: %v", err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func entry(job string, offset time.Duration) Entry {
	return Entry{
		RunAt:      base,
		Job:        job,
		Status:     cron.StatusSuccess,
		StartedAt:  base.Add(offset),
		FinishedAt: base.Add(offset + time.Second),
	}
}

func TestStore_AppendRecent(t *testing.T) {
	t.Parallel()
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			s := newStore(t)
			ctx := context.Background()

			failed := entry("backup", 2*time.Minute)
			failed.Status = cron.StatusFailed
			failed.Error = "exit status 1"
			failed.Forced = true
			if err := s.Append(ctx, entry("backup", 0), entry("report", time.Minute), failed); err != nil {
				t.Fatalf("Append: %v", err)
			}

			all, err := s.Recent(ctx, "", 10)
			if err != nil {
				t.Fatal(err)
			}
			if len(all) != 3 {
				t.Fatalf("Recent = %d entries, want 3", len(all))
			}
			if all[0].Status != cron.StatusFailed || all[0].Error != "exit status 1" || !all[0].Forced {
				t.Errorf("newest = %+v", all[0])
			}
			if all[0].ID <= all[1].ID {
				t.Errorf("ids not descending: %d, %d", all[0].ID, all[1].ID)
			}
			if !all[2].StartedAt.Equal(base) || all[2].Duration() != time.Second {
				t.Errorf("oldest = %+v", all[2])
			}

			backups, err := s.Recent(ctx, "backup", 1)
			if err != nil {
				t.Fatal(err)
			}
			if len(backups) != 1 || backups[0].Status != cron.StatusFailed {
				t.Errorf("Recent(backup, 1) = %+v", backups)
			}

			if none, _ := s.Recent(ctx, "", 0); len(none) != 0 {
				t.Errorf("Recent(0) = %+v", none)
			}
		})
	}
}

func TestStore_Prune(t *testing.T) {
	t.Parallel()
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			s := newStore(t)
			ctx := context.Background()

			if err := s.Append(ctx, entry("a", 0), entry("b", time.Hour), entry("c", 2*time.Hour)); err != nil {
				t.Fatal(err)
			}
			n, err := s.Prune(ctx, base.Add(time.Hour))
			if err != nil {
				t.Fatal(err)
			}
			if n != 1 {
				t.Errorf("pruned %d, want 1", n)
			}
			left, _ := s.Recent(ctx, "", 10)
			if len(left) != 2 || left[1].Job != "b" {
				t.Errorf("remaining = %+v", left)
			}
		})
	}
}

func TestRecorder(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	rec := Recorder(s)

	report := cron.Report{
		At:    base,
		Force: true,
		Results: map[string]cron.Result{
			"zeta":  {Job: "zeta", Success: true, StartedAt: base, FinishedAt: base.Add(time.Second), EndMemory: 10},
			"alpha": {Job: "alpha", Message: "boom", Err: errors.New("boom"), StartedAt: base, FinishedAt: base},
			"mid":   {Job: "mid", Skipped: true, Message: "job is locked"},
		},
	}
	if err := rec.RecordRun(context.Background(), report); err != nil {
		t.Fatal(err)
	}

	got, _ := s.Recent(context.Background(), "", 10)
	if len(got) != 3 {
		t.Fatalf("recorded %d, want 3", len(got))
	}
	// Newest first, appended in name order.
	want := []struct{ job, status string }{
		{"zeta", cron.StatusSuccess},
		{"mid", cron.StatusSkipped},
		{"alpha", cron.StatusFailed},
	}
	for i, w := range want {
		if got[i].Job != w.job || got[i].Status != w.status {
			t.Errorf("entry %d = %s/%s, want %s/%s", i, got[i].Job, got[i].Status, w.job, w.status)
		}
		if !got[i].Forced || !got[i].RunAt.Equal(base) {
			t.Errorf("entry %d run fields = %+v", i, got[i])
		}
	}
	if got[2].Error != "boom" {
		t.Errorf("error = %q", got[2].Error)
	}
	if got[0].MemoryDelta != 10 {
		t.Errorf("memory delta = %d", got[0].MemoryDelta)
	}

	if err := rec.RecordRun(context.Background(), cron.Report{At: base}); err != nil {
		t.Fatal(err)
	}
	if again, _ := s.Recent(context.Background(), "", 10); len(again) != 3 {
		t.Error("empty report should record nothing")
	}
}

func TestSQLiteStore_SharedDatabase(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cronrun.db")

	first, err := OpenSQLiteStore(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Append(ctx, entry("backup", 0)); err != nil {
		t.Fatal(err)
	}
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}

	second, err := OpenSQLiteStore(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = second.Close() }()
	got, err := second.Recent(ctx, "backup", 5)
	if err != nil || len(got) != 1 {
		t.Fatalf("reopened Recent = %+v, %v", got, err)
	}
}
