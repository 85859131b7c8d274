// Package api exposes the health and readiness endpoints. They are thin
// collaborators of the core: readiness reports healthy only when the bus has
// active subscriptions and the periodic loops are running.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Readiness is the view of the core the endpoints report on.
type Readiness struct {
	// SubscriptionCount returns the number of active bus subscriptions.
	SubscriptionCount func() int

	// SweepsRunning reports whether the TTL sweep loops are active.
	SweepsRunning func() bool

	// SchedulerRunning reports whether the trigger scheduler is active.
	SchedulerRunning func() bool
}

// Ready reports whether all readiness conditions hold.
func (r Readiness) Ready() bool {
	return r.SubscriptionCount() > 0 && r.SweepsRunning() && r.SchedulerRunning()
}

// NewRouter builds the health router.
func NewRouter(readiness Readiness, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		body := map[string]interface{}{
			"subscriptions":     readiness.SubscriptionCount(),
			"sweeps_running":    readiness.SweepsRunning(),
			"scheduler_running": readiness.SchedulerRunning(),
		}

		if !readiness.Ready() {
			logger.Warn("readiness check failed", "detail", body)
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
		writeJSON(w, http.StatusOK, body)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
