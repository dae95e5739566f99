package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer, g.countRequests)

	// Public, no auth required.
	r.Get("/health", g.handleHealth())

	// Triggers carry their own HMAC auth per job.
	r.Post("/hooks/{job}", g.handleTrigger())

	// Read-only diagnostics follow the auth configuration when present.
	r.Group(func(r chi.Router) {
		if g.config.Auth.IsConfigured() {
			r.Use(authMiddleware(g.config.Auth, g.logger))
		}
		r.Get("/status", g.handleStatus())
		r.Get("/ws/locks", g.handleLockFeed)
		if g.deps.Metrics != nil {
			r.Handle("/metrics", g.deps.Metrics)
		}
		r.Route("/api", func(r chi.Router) {
			r.Get("/jobs", g.handleListJobs())
			r.Get("/jobs/{name}", g.handleGetJob())
			r.Get("/locks", g.handleListLocks())
			r.Get("/history", g.handleHistory())
		})
	})

	// Mutations require auth and are not mounted without it.
	if g.config.Auth.IsConfigured() {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(g.config.Auth, g.logger))
			r.Post("/api/run", g.handleRun())
			r.Post("/api/jobs/{name}/run", g.handleRunJob())
			r.Delete("/api/locks/{name}", g.handleReleaseLock())
		})
	}

	return r
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
