package http

import (
	"net/http"
	"strings"

	"github.com/assessops/platform/internal/pipeline"
)

// GET /api/leaderboard?test_id=...
func LeaderboardHandler(p *pipeline.AttemptPipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		testID := strings.TrimSpace(r.URL.Query().Get("test_id"))
		if testID == "" {
			badRequest(w, "test_id required")
			return
		}
		lb, err := p.GetLeaderboard(r.Context(), testID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, lb)
	}
}

// GET /api/tests
func ListTestsHandler(store pipeline.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tests, err := store.ListTests(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		if tests == nil {
			tests = []pipeline.Test{}
		}
		writeJSON(w, http.StatusOK, tests)
	}
}
