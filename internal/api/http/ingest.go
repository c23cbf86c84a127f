package http

import (
	"encoding/json"
	"net/http"

	"github.com/assessops/platform/internal/pipeline"
)

type ingestRequest struct {
	Events []pipeline.Event `json:"events"`
}

// POST /api/ingest/attempts
// Runs a batch of attempt events through the pipeline; one event's failure
// never aborts the batch.
func IngestHandler(p *pipeline.AttemptPipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ingestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "bad json: "+err.Error())
			return
		}
		writeJSON(w, http.StatusOK, p.ProcessBatch(r.Context(), req.Events))
	}
}
