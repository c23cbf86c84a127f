package http

import (
	"net/http"

	"github.com/assessops/platform/internal/logx"
	"github.com/assessops/platform/internal/pipeline"
)

// GET /api/data/stats
func StatsHandler(store pipeline.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := store.Stats(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// POST /api/data/reset
// Clears all ingested data for a fresh import.
func ResetHandler(store pipeline.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.Reset(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		logx.FromContext(r.Context()).Info("database reset: all data cleared")
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"message": "All data cleared successfully",
		})
	}
}

// GET /api/health
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "assessment-ops",
		})
	}
}
