package gateway

import (
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5/middleware"
)

// Metrics tracks gateway-level counters using atomic operations for lock-free concurrency.
type Metrics struct {
	requests    atomic.Int64
	errors      atomic.Int64
	triggers    atomic.Int64
	manualRuns  atomic.Int64
	feedClients atomic.Int64
}

// RecordRequest records a served request and whether it failed server-side.
func (m *Metrics) RecordRequest(status int) {
	m.requests.Add(1)
	if status >= http.StatusInternalServerError {
		m.errors.Add(1)
	}
}

// RecordTrigger records a job started through a signed trigger.
func (m *Metrics) RecordTrigger() { m.triggers.Add(1) }

// RecordManualRun records a run or job execution requested over the API.
func (m *Metrics) RecordManualRun() { m.manualRuns.Add(1) }

// Snapshot returns a consistent point-in-time view of the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Requests:    m.requests.Load(),
		Errors:      m.errors.Load(),
		Triggers:    m.triggers.Load(),
		ManualRuns:  m.manualRuns.Load(),
		FeedClients: m.feedClients.Load(),
	}
}

// MetricsSnapshot is a serializable point-in-time metrics view.
type MetricsSnapshot struct {
	Requests    int64 `json:"requests"`
	Errors      int64 `json:"errors"`
	Triggers    int64 `json:"triggers"`
	ManualRuns  int64 `json:"manual_runs"`
	FeedClients int64 `json:"feed_clients"`
}

func (g *Gateway) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		g.metrics.RecordRequest(status)
	})
}
