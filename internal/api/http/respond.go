package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/assessops/platform/internal/pipeline"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errResponse struct {
	Detail string `json:"detail"`
}

// writeError maps the pipeline's error taxonomy onto HTTP status codes:
// not-found sentinels to 404, conflicts to 409, everything else to 500.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrAttemptNotFound),
		errors.Is(err, pipeline.ErrTestNotFound),
		errors.Is(err, pipeline.ErrStudentNotFound):
		writeJSON(w, http.StatusNotFound, errResponse{Detail: err.Error()})
	case errors.Is(err, pipeline.ErrAttemptDeduped),
		errors.Is(err, pipeline.ErrDuplicateSourceEvent):
		writeJSON(w, http.StatusConflict, errResponse{Detail: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errResponse{Detail: err.Error()})
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errResponse{Detail: msg})
}

func parseIntDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
