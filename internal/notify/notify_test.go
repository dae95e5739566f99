package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/flemzord/cronrun/internal/cron"
)

var at = time.Date(2024, 1, 8, 4, 0, 0, 0, time.UTC)

func report(results ...cron.Result) cron.Report {
	r := cron.Report{At: at, StartedAt: at, FinishedAt: at.Add(time.Second), Results: map[string]cron.Result{}}
	for _, res := range results {
		r.Results[res.Job] = res
	}
	return r
}

type capture struct {
	mu     sync.Mutex
	bodies [][]byte
	sigs   []string
	status int
}

func (c *capture) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.bodies = append(c.bodies, body)
		c.sigs = append(c.sigs, r.Header.Get(SignatureHeader))
		status := c.status
		c.mu.Unlock()
		if status == 0 {
			status = http.StatusNoContent
		}
		w.WriteHeader(status)
	}
}

func TestWebhook_DeliversSignedReport(t *testing.T) {
	t.Parallel()

	c := &capture{}
	srv := httptest.NewServer(c.handler())
	t.Cleanup(srv.Close)

	w := NewWebhook(Config{URL: srv.URL, Secret: "s3cret"})
	err := w.RecordRun(context.Background(), report(
		cron.Result{Job: "b", Success: true},
		cron.Result{Job: "a", Err: errors.New("disk full")},
	))
	if err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.bodies) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(c.bodies))
	}
	if want := Sign(c.bodies[0], "s3cret"); c.sigs[0] != want {
		t.Errorf("signature = %q, want %q", c.sigs[0], want)
	}

	var got struct {
		Failed  int `json:"failed"`
		Results []struct {
			Job    string `json:"job"`
			Status string `json:"status"`
			Error  string `json:"error"`
		} `json:"results"`
	}
	if err := json.Unmarshal(c.bodies[0], &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Failed != 1 || len(got.Results) != 2 {
		t.Fatalf("payload = %+v", got)
	}
	if got.Results[0].Job != "a" || got.Results[0].Status != cron.StatusFailed || got.Results[0].Error != "disk full" {
		t.Errorf("first result = %+v, want failed a", got.Results[0])
	}
}

func TestWebhook_OnlyFailures(t *testing.T) {
	t.Parallel()

	c := &capture{}
	srv := httptest.NewServer(c.handler())
	t.Cleanup(srv.Close)

	w := NewWebhook(Config{URL: srv.URL, OnlyFailures: true})
	ctx := context.Background()
	if err := w.RecordRun(ctx, report(cron.Result{Job: "a", Success: true}, cron.Result{Job: "b", Skipped: true})); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	if err := w.RecordRun(ctx, report()); err != nil {
		t.Fatalf("RecordRun(empty): %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.bodies) != 0 {
		t.Errorf("deliveries = %d, want 0", len(c.bodies))
	}
	if c.sigs != nil {
		t.Errorf("unexpected signatures %v", c.sigs)
	}
}

func TestWebhook_ErrorStatus(t *testing.T) {
	t.Parallel()

	c := &capture{status: http.StatusBadGateway}
	srv := httptest.NewServer(c.handler())
	t.Cleanup(srv.Close)

	w := NewWebhook(Config{URL: srv.URL})
	err := w.RecordRun(context.Background(), report(cron.Result{Job: "a", Success: true}))
	if err == nil {
		t.Fatal("expected error for 502")
	}
}
