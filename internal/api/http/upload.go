package http

import (
	"io"
	"math"
	"net/http"

	"github.com/assessops/platform/internal/ingestfile"
	"github.com/assessops/platform/internal/pipeline"
)

const maxUploadBytes = 32 << 20 // 32 MiB

func readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, bool) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		badRequest(w, "parse upload: "+err.Error())
		return "", nil, false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "no file provided")
		return "", nil, false
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		badRequest(w, "read upload: "+err.Error())
		return "", nil, false
	}
	return header.Filename, data, true
}

type analyzeResponse struct {
	Analysis ingestfile.Analysis `json:"analysis"`
	Events   []pipeline.Event    `json:"events"`
}

// POST /api/upload/analyze
// Parses a CSV/JSON file and returns an analysis summary without ingesting.
// The parsed events ride along so the client can ingest them afterwards.
func UploadAnalyzeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename, data, ok := readUpload(w, r)
		if !ok {
			return
		}
		events, err := ingestfile.ParseFile(filename, data)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		an := ingestfile.Analyze(events)
		an.Filename = filename
		an.FileSizeKB = math.Round(float64(len(data))/1024*10) / 10
		if events == nil {
			events = []pipeline.Event{}
		}
		writeJSON(w, http.StatusOK, analyzeResponse{Analysis: an, Events: events})
	}
}

// POST /api/upload/ingest
// Parses a CSV/JSON file and runs every event through the pipeline.
func UploadIngestHandler(p *pipeline.AttemptPipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename, data, ok := readUpload(w, r)
		if !ok {
			return
		}
		events, err := ingestfile.ParseFile(filename, data)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, p.ProcessBatch(r.Context(), events))
	}
}
