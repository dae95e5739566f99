package gateway

import (
	"net/http"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status    string `json:"status"` // "ok" or "degraded"
	LockStore string `json:"lock_store"`
	Running   bool   `json:"running"`
	InFlight  int    `json:"in_flight"`
}

// handleHealth returns an http.HandlerFunc for GET /health.
// Returns 200 when the lock store answers, 503 otherwise.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:    "ok",
			LockStore: "ok",
			InFlight:  g.deps.Executor.InFlight(),
		}

		running, err := g.deps.Scheduler.IsRunning(r.Context())
		if err != nil {
			resp.Status = "degraded"
			resp.LockStore = err.Error()
		}
		resp.Running = running

		code := http.StatusOK
		if resp.Status == "degraded" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	}
}
