package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/flemzord/cronrun/internal/cron"
	"github.com/flemzord/cronrun/internal/host/hosttest"
	"github.com/flemzord/cronrun/internal/lock"
)

var at = time.Date(2024, 1, 7, 2, 0, 0, 0, time.UTC)

func report() cron.Report {
	return cron.Report{
		At: at,
		Results: map[string]cron.Result{
			"backup": {Job: "backup", Success: true, StartedAt: at, FinishedAt: at.Add(3 * time.Second)},
			"report": {Job: "report", Err: errors.New("boom"), StartedAt: at, FinishedAt: at.Add(time.Second)},
			"sync":   {Job: "sync", Skipped: true, Message: "job is locked"},
		},
	}
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestRecordRun(t *testing.T) {
	t.Parallel()
	m := New(Config{})
	if err := m.RecordRun(context.Background(), report()); err != nil {
		t.Fatal(err)
	}

	body := scrape(t, m)
	for _, want := range []string{
		`cronrun_runs_total{forced="false"} 1`,
		`cronrun_job_results_total{job="backup",status="success"} 1`,
		`cronrun_job_results_total{job="report",status="failed"} 1`,
		`cronrun_job_results_total{job="sync",status="skipped"} 1`,
		`cronrun_job_duration_seconds_count{job="backup"} 1`,
		`cronrun_job_last_success_timestamp_seconds{job="backup"} 1.704592803e+09`,
		`cronrun_last_run_timestamp_seconds 1.7045928e+09`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q\n%s", want, body)
		}
	}
	if strings.Contains(body, `cronrun_job_duration_seconds_count{job="sync"}`) {
		t.Error("skipped job should not observe a duration")
	}
	if strings.Contains(body, `job_last_success_timestamp_seconds{job="report"}`) {
		t.Error("failed job should not set last success")
	}
}

func TestRecordRun_Textfile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "cronrun.prom")
	m := New(Config{Textfile: path})

	if err := m.RecordRun(context.Background(), report()); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("textfile not written: %v", err)
	}
	if !strings.Contains(string(data), `cronrun_runs_total{forced="false"} 1`) {
		t.Errorf("textfile content:\n%s", data)
	}
}

func TestRecordRun_TextfileError(t *testing.T) {
	t.Parallel()
	m := New(Config{Textfile: filepath.Join(t.TempDir(), "missing", "dir", "cronrun.prom")})
	if err := m.RecordRun(context.Background(), report()); err == nil {
		t.Fatal("expected error writing into a missing directory")
	}
}

func TestLockCollector(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClockAt(at)
	locks := lock.NewManager(lock.NewMemoryStore(),
		lock.WithClock(clock),
		lock.WithHost(hosttest.New(1000, "worker-1")),
		lock.WithLivenessCheck(func(int) bool { return true }),
	)
	ctx := context.Background()
	if ok, err := locks.AcquireGlobal(ctx, time.Minute); !ok || err != nil {
		t.Fatalf("AcquireGlobal = %v, %v", ok, err)
	}
	if ok, err := locks.AcquireJob(ctx, "backup", time.Hour); !ok || err != nil {
		t.Fatalf("AcquireJob = %v, %v", ok, err)
	}
	clock.Advance(2 * time.Minute)

	m := New(Config{Locks: locks, Clock: clock})

	body := scrape(t, m)
	for _, want := range []string{
		`cronrun_lock_store_up 1`,
		`cronrun_lock_stale{lock="global"} 1`,
		`cronrun_lock_stale{lock="job:backup"} 0`,
		`cronrun_lock_age_seconds{hostname="worker-1",lock="job:backup"} 120`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q\n%s", want, body)
		}
	}
}

func TestProcessCollectors(t *testing.T) {
	t.Parallel()
	m := New(Config{Process: true})
	if body := scrape(t, m); !strings.Contains(body, "go_goroutines") {
		t.Error("go collector not registered")
	}
}
