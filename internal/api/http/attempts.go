package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/assessops/platform/internal/pipeline"
)

type attemptListResponse struct {
	Items    []pipeline.AttemptDetail `json:"items"`
	Total    int                      `json:"total"`
	Page     int                      `json:"page"`
	PageSize int                      `json:"page_size"`
}

// GET /api/attempts?test_id=&student_id=&status=&has_duplicates=&date_from=&date_to=&search=&page=&page_size=
func ListAttemptsHandler(store pipeline.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		opts := pipeline.AttemptListOpts{
			TestID:    strings.TrimSpace(q.Get("test_id")),
			StudentID: strings.TrimSpace(q.Get("student_id")),
			Status:    strings.TrimSpace(q.Get("status")),
			Search:    strings.TrimSpace(q.Get("search")),
			Page:      parseIntDefault(q.Get("page"), 1),
			PageSize:  parseIntDefault(q.Get("page_size"), 20),
		}
		if opts.PageSize > 100 {
			opts.PageSize = 100
		}
		if v := q.Get("has_duplicates"); v != "" {
			b := v == "true" || v == "1"
			opts.HasDuplicates = &b
		}
		// Malformed date filters are ignored, matching the listing's
		// lenient contract.
		if t, ok := pipeline.ParseTimestamp(q.Get("date_from")); ok {
			opts.DateFrom = t
		}
		if t, ok := pipeline.ParseTimestamp(q.Get("date_to")); ok {
			opts.DateTo = t
		}

		items, total, err := store.ListAttempts(r.Context(), opts)
		if err != nil {
			writeError(w, err)
			return
		}
		if items == nil {
			items = []pipeline.AttemptDetail{}
		}
		writeJSON(w, http.StatusOK, attemptListResponse{
			Items: items, Total: total, Page: opts.Page, PageSize: opts.PageSize,
		})
	}
}

// GET /api/attempts/{attemptID}
func GetAttemptHandler(store pipeline.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		detail, err := loadAttemptDetail(r, store, chi.URLParam(r, "attemptID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)
	}
}

func loadAttemptDetail(r *http.Request, store pipeline.Store, attemptID string) (pipeline.AttemptDetail, error) {
	ctx := r.Context()
	a, err := store.GetAttempt(ctx, attemptID)
	if err != nil {
		return pipeline.AttemptDetail{}, err
	}
	student, err := store.GetStudent(ctx, a.StudentID)
	if err != nil {
		return pipeline.AttemptDetail{}, err
	}
	test, err := store.GetTest(ctx, a.TestID)
	if err != nil {
		return pipeline.AttemptDetail{}, err
	}
	detail := pipeline.AttemptDetail{Attempt: a, Student: student, Test: test}
	if sc, err := store.GetScore(ctx, a.ID); err == nil {
		detail.Score = &sc
	} else if !errors.Is(err, pipeline.ErrAttemptNotFound) {
		return pipeline.AttemptDetail{}, err
	}
	flags, err := store.ListFlags(ctx, a.ID)
	if err != nil {
		return pipeline.AttemptDetail{}, err
	}
	detail.Flags = flags
	return detail, nil
}

// POST /api/attempts/{attemptID}/recompute
func RecomputeScoreHandler(p *pipeline.AttemptPipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, err := p.RecomputeScore(r.Context(), chi.URLParam(r, "attemptID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sc)
	}
}

type flagRequest struct {
	Reason string `json:"reason"`
}

// POST /api/attempts/{attemptID}/flag
func FlagAttemptHandler(p *pipeline.AttemptPipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req flagRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "bad json: "+err.Error())
			return
		}
		if strings.TrimSpace(req.Reason) == "" {
			badRequest(w, "reason required")
			return
		}
		flag, err := p.FlagAttempt(r.Context(), chi.URLParam(r, "attemptID"), req.Reason)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, flag)
	}
}

// GET /api/attempts/{attemptID}/duplicates
func DuplicateThreadHandler(p *pipeline.AttemptPipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		thread, err := p.GetDuplicateThread(r.Context(), chi.URLParam(r, "attemptID"))
		if err != nil {
			writeError(w, err)
			return
		}
		if thread.Duplicates == nil {
			thread.Duplicates = []pipeline.Attempt{}
		}
		writeJSON(w, http.StatusOK, thread)
	}
}
