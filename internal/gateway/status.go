package gateway

import (
	"net/http"

	"github.com/flemzord/cronrun/internal/cron"
)

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	Uptime    int64            `json:"uptime_seconds"`
	Timezone  string           `json:"timezone"`
	Metrics   MetricsSnapshot  `json:"metrics"`
	Stats     cron.Stats       `json:"stats"`
	Jobs      cron.Summary     `json:"jobs"`
	Executing []cron.Execution `json:"executing"`
	InFlight  int              `json:"in_flight"`
}

// handleStatus returns an http.HandlerFunc for GET /status.
func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		g.mu.Lock()
		startedAt := g.startedAt
		g.mu.Unlock()

		registry := g.deps.Scheduler.Registry()
		executing := g.deps.Executor.Executing()
		if executing == nil {
			executing = []cron.Execution{}
		}

		writeJSON(w, http.StatusOK, StatusResponse{
			Uptime:    int64(g.clock.Since(startedAt).Seconds()),
			Timezone:  registry.Location().String(),
			Metrics:   g.metrics.Snapshot(),
			Stats:     g.deps.Scheduler.Statistics(),
			Jobs:      registry.Summary(),
			Executing: executing,
			InFlight:  g.deps.Executor.InFlight(),
		})
	}
}
