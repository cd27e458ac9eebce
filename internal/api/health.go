package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/logsift/logsift/internal/postgres"
)

// readyProbeTimeout bounds the database ping in the readiness probe so a
// wedged pool cannot hang the orchestrator's health checks.
const readyProbeTimeout = 2 * time.Second

// health reports liveness for Docker/Kubernetes probes.
func health(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	}
}

// readiness reports whether the server can do useful work: the database
// answers a ping and the pool has headroom. A nil db (tests, partial
// wiring) reports ready without the database section.
func readiness(db *postgres.DB, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), readyProbeTimeout)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			logger.Warn("readiness probe failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not reachable", logger)
			return
		}

		stat := db.Stat()
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"pool": map[string]int32{
				"total_conns": stat.TotalConns(),
				"idle_conns":  stat.IdleConns(),
				"max_conns":   stat.MaxConns(),
			},
		})
	}
}
