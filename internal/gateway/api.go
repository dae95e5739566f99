package gateway

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flemzord/cronrun/internal/cron"
	"github.com/flemzord/cronrun/internal/lock"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// handleListJobs lists every registered job in priority order.
func (g *Gateway) handleListJobs() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		registry := g.deps.Scheduler.Registry()
		jobs := registry.JobsByPriority(false)
		out := make([]cron.JobInfo, 0, len(jobs))
		for _, j := range jobs {
			if info, ok := registry.Info(j.Name()); ok {
				out = append(out, info)
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// handleGetJob returns one job's snapshot.
func (g *Gateway) handleGetJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, ok := g.deps.Scheduler.Registry().Info(chi.URLParam(r, "name"))
		if !ok {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeJSON(w, http.StatusOK, info)
	}
}

// lockJSON is a serializable lock snapshot.
type lockJSON struct {
	Name       string    `json:"name"`
	Owner      string    `json:"owner"`
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Timeout    float64   `json:"timeout_seconds"`
	Stale      bool      `json:"stale"`
	Held       bool      `json:"held"`
}

func toLockJSON(statuses []lock.Status) []lockJSON {
	out := make([]lockJSON, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, lockJSON{
			Name:       s.Name,
			Owner:      s.Owner,
			PID:        s.PID,
			Hostname:   s.Hostname,
			AcquiredAt: s.AcquiredAt,
			ExpiresAt:  s.ExpiresAt(),
			Timeout:    s.Timeout.Seconds(),
			Stale:      s.Stale,
			Held:       s.Held,
		})
	}
	return out
}

// handleListLocks lists the lock store with staleness.
func (g *Gateway) handleListLocks() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statuses, err := g.deps.Locks.List(r.Context())
		if err != nil {
			g.logger.Error("gateway: list locks failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to list locks")
			return
		}
		writeJSON(w, http.StatusOK, toLockJSON(statuses))
	}
}

// handleReleaseLock force-releases one lock by name.
func (g *Gateway) handleReleaseLock() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		released, err := g.deps.Locks.ForceRelease(r.Context(), name)
		if err != nil {
			g.logger.Error("gateway: release lock failed", "lock", name, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to release lock")
			return
		}
		if !released {
			writeError(w, http.StatusNotFound, "lock not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleHistory lists recent results, optionally for one job.
func (g *Gateway) handleHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.deps.History == nil {
			writeError(w, http.StatusNotFound, "history is disabled")
			return
		}

		limit := defaultHistoryLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = min(n, maxHistoryLimit)
		}

		entries, err := g.deps.History.Recent(r.Context(), r.URL.Query().Get("job"), limit)
		if err != nil {
			g.logger.Error("gateway: history query failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to read history")
			return
		}
		if entries == nil {
			writeJSON(w, http.StatusOK, []struct{}{})
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

// runResponse is the JSON response of POST /api/run.
type runResponse struct {
	At      time.Time              `json:"at"`
	Force   bool                   `json:"force"`
	Results map[string]cron.Result `json:"results"`
}

// handleRun performs one scheduler pass for the current minute.
func (g *Gateway) handleRun() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		force := r.URL.Query().Get("force") == "true"
		noWriteDeadline(w)
		g.metrics.RecordManualRun()

		at := g.clock.Now()
		ctx := context.WithoutCancel(r.Context())
		results, err := g.deps.Scheduler.Run(ctx, at, force)
		if err != nil {
			g.logger.Error("gateway: run failed", "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, runResponse{
			At:      at,
			Force:   force,
			Results: results,
		})
	}
}

// handleRunJob executes one job now, outside its schedule.
func (g *Gateway) handleRunJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := g.deps.Scheduler.Registry().Get(chi.URLParam(r, "name"))
		if !ok {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		noWriteDeadline(w)
		g.metrics.RecordManualRun()

		force := r.URL.Query().Get("force") == "true"
		res := g.deps.Executor.Execute(context.WithoutCancel(r.Context()), job, force)
		writeJSON(w, http.StatusOK, res)
	}
}

// noWriteDeadline lifts the server write timeout for long-running handlers.
func noWriteDeadline(w http.ResponseWriter) {
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
}
