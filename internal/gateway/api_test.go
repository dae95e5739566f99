package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/flemzord/cronrun/internal/cron"
	"github.com/flemzord/cronrun/internal/history"
)

func TestHealth(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "{}", nil)
	rr := f.do(t, http.MethodGet, "/health", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" || resp.LockStore != "ok" || resp.Running {
		t.Errorf("health = %+v", resp)
	}

	if ok, _ := f.locks.AcquireGlobal(context.Background(), time.Hour); !ok {
		t.Fatal("AcquireGlobal failed")
	}
	rr = f.do(t, http.MethodGet, "/health", nil, nil)
	bodyContains(t, rr, `"running":true`)
}

func TestHealth_Degraded(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "{}", brokenStore{})
	rr := f.do(t, http.MethodGet, "/health", nil, nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rr.Code)
	}
	bodyContains(t, rr, `"status":"degraded"`, "store unavailable")
}

func TestStatus(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "{}", nil)
	if _, err := f.gateway.deps.Scheduler.Run(context.Background(), time.Time{}, false); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(90 * time.Second)

	rr := f.do(t, http.MethodGet, "/status", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp StatusResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Uptime != 90 {
		t.Errorf("uptime = %d, want 90", resp.Uptime)
	}
	if resp.Timezone != "UTC" {
		t.Errorf("timezone = %q", resp.Timezone)
	}
	if resp.Stats.Runs != 1 || resp.Stats.Successful != 1 {
		t.Errorf("stats = %+v", resp.Stats)
	}
	if resp.Jobs.Total != 2 || resp.Jobs.Enabled != 2 {
		t.Errorf("jobs = %+v", resp.Jobs)
	}
	if resp.Executing == nil {
		t.Error("executing should encode as an empty list")
	}
}

func TestListJobs(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "{}", nil)
	rr := f.do(t, http.MethodGet, "/api/jobs", nil, nil)
	var jobs []cron.JobInfo
	if err := json.NewDecoder(rr.Body).Decode(&jobs); err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 2 || jobs[0].Name != "backup" || jobs[1].Name != "report" {
		t.Fatalf("jobs = %+v", jobs)
	}
	if want := time.Date(2024, 1, 7, 6, 0, 0, 0, time.UTC); !jobs[1].NextRun.Equal(want) {
		t.Errorf("report next run = %v, want %v", jobs[1].NextRun, want)
	}

	rr = f.do(t, http.MethodGet, "/api/jobs/report", nil, nil)
	bodyContains(t, rr, `"name":"report"`, `"priority":60`)

	if rr := f.do(t, http.MethodGet, "/api/jobs/missing", nil, nil); rr.Code != http.StatusNotFound {
		t.Errorf("missing job = %d, want 404", rr.Code)
	}
}

func TestLocks(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "auth: {bearer_token: t0k3n}", nil)
	if ok, _ := f.locks.AcquireJob(context.Background(), "backup", time.Minute); !ok {
		t.Fatal("AcquireJob failed")
	}
	f.clock.Advance(2 * time.Minute)

	rr := f.do(t, http.MethodGet, "/api/locks", nil, bearer("t0k3n"))
	var locks []lockJSON
	if err := json.NewDecoder(rr.Body).Decode(&locks); err != nil {
		t.Fatal(err)
	}
	if len(locks) != 1 {
		t.Fatalf("locks = %+v", locks)
	}
	l := locks[0]
	if l.Name != "job:backup" || !l.Stale || !l.Held || l.PID != 1000 || l.Timeout != 60 {
		t.Errorf("lock = %+v", l)
	}

	rr = f.do(t, http.MethodDelete, "/api/locks/job:backup", nil, bearer("t0k3n"))
	if rr.Code != http.StatusNoContent {
		t.Errorf("release = %d, want 204", rr.Code)
	}
	rr = f.do(t, http.MethodDelete, "/api/locks/job:backup", nil, bearer("t0k3n"))
	if rr.Code != http.StatusNotFound {
		t.Errorf("second release = %d, want 404", rr.Code)
	}
}

func TestLocks_StoreError(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "{}", brokenStore{})
	if rr := f.do(t, http.MethodGet, "/api/locks", nil, nil); rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}
	if got := f.gateway.Metrics().Snapshot().Errors; got != 1 {
		t.Errorf("errors counter = %d, want 1", got)
	}
}

func TestHistory(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "{}", nil)
	ctx := context.Background()
	for i := range 3 {
		if err := f.history.Append(ctx, history.Entry{Job: "backup", Status: cron.StatusSuccess, RunAt: sunday0200.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.history.Append(ctx, history.Entry{Job: "report", Status: cron.StatusFailed}); err != nil {
		t.Fatal(err)
	}

	rr := f.do(t, http.MethodGet, "/api/history?job=backup&limit=2", nil, nil)
	var entries []history.Entry
	if err := json.NewDecoder(rr.Body).Decode(&entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Job != "backup" || entries[0].ID != 3 {
		t.Errorf("entries = %+v", entries)
	}

	rr = f.do(t, http.MethodGet, "/api/history?job=nothing", nil, nil)
	if rr.Code != http.StatusOK || rr.Body.String() != "[]\n" {
		t.Errorf("empty history = %d %q", rr.Code, rr.Body.String())
	}

	for _, bad := range []string{"0", "-3", "ten"} {
		if rr := f.do(t, http.MethodGet, "/api/history?limit="+bad, nil, nil); rr.Code != http.StatusBadRequest {
			t.Errorf("limit=%s -> %d, want 400", bad, rr.Code)
		}
	}
}

func TestHistory_Disabled(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "{}", nil)
	f.gateway.deps.History = nil
	f.handler = f.gateway.Handler()
	if rr := f.do(t, http.MethodGet, "/api/history", nil, nil); rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "auth: {bearer_token: t0k3n}", nil)
	rr := f.do(t, http.MethodPost, "/api/run", nil, bearer("t0k3n"))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body)
	}
	var resp struct {
		Force   bool `json:"force"`
		Results map[string]struct {
			Status string `json:"status"`
		} `json:"results"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 || resp.Results["backup"].Status != cron.StatusSuccess {
		t.Errorf("results = %+v", resp.Results)
	}
	if f.runs["backup"] != 1 || f.runs["report"] != 0 {
		t.Errorf("runs = %v", f.runs)
	}

	recorded, _ := f.history.Recent(context.Background(), "backup", 10)
	if len(recorded) != 1 {
		t.Errorf("history recorded %d entries, want 1", len(recorded))
	}
	if got := f.gateway.Metrics().Snapshot().ManualRuns; got != 1 {
		t.Errorf("manual runs = %d", got)
	}
}

func TestRun_LockStoreError(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "auth: {bearer_token: t0k3n}", brokenStore{})
	rr := f.do(t, http.MethodPost, "/api/run?force=true", nil, bearer("t0k3n"))
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}
	bodyContains(t, rr, "force=true")
}

func TestRunJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "auth: {bearer_token: t0k3n}", nil)
	rr := f.do(t, http.MethodPost, "/api/jobs/report/run", nil, bearer("t0k3n"))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	bodyContains(t, rr, `"job":"report"`, `"status":"success"`)
	if f.runs["report"] != 1 {
		t.Errorf("report ran %d times", f.runs["report"])
	}

	if rr := f.do(t, http.MethodPost, "/api/jobs/missing/run", nil, bearer("t0k3n")); rr.Code != http.StatusNotFound {
		t.Errorf("missing job = %d, want 404", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "{}", nil)
	if ok, _ := f.locks.AcquireGlobal(context.Background(), time.Hour); !ok {
		t.Fatal("AcquireGlobal failed")
	}
	rr := f.do(t, http.MethodGet, "/metrics", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	bodyContains(t, rr, `cronrun_lock_stale{lock="global"} 0`, "cronrun_lock_store_up 1")

	if got := f.gateway.Metrics().Snapshot().Requests; got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
}
