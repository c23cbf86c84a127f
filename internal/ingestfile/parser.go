// Package ingestfile turns uploaded CSV or JSON files into attempt events
// and computes a pre-ingest analysis summary over them.
package ingestfile

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/assessops/platform/internal/pipeline"
)

const defaultMaxMarks = 300

// ParseFile dispatches on the file extension. Only .json and .csv are
// supported.
func ParseFile(filename string, data []byte) ([]pipeline.Event, error) {
	switch {
	case strings.HasSuffix(strings.ToLower(filename), ".json"):
		return ParseJSON(data)
	case strings.HasSuffix(strings.ToLower(filename), ".csv"):
		return ParseCSV(data)
	default:
		return nil, fmt.Errorf("unsupported file type %q: expected .json or .csv", filename)
	}
}

// ParseJSON accepts either a bare array of events or {"events": [...]}.
// A UTF-8 BOM is tolerated.
func ParseJSON(data []byte) ([]pipeline.Event, error) {
	data = stripBOM(data)

	var events []pipeline.Event
	if err := json.Unmarshal(data, &events); err == nil {
		return events, nil
	}

	var wrapped struct {
		Events []pipeline.Event `json:"events"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil || wrapped.Events == nil {
		return nil, fmt.Errorf("JSON must be an array of events or {\"events\": [...]}")
	}
	return wrapped.Events, nil
}

// ParseCSV converts CSV rows to events. Header conventions follow the exam
// platform's export format: student columns may be named full_name or
// student_name (likewise email/phone), the test column test_name or test,
// and answers live in per-question columns ("1", "Q1", ...). A missing
// source_event_id falls back to csv_evt_<row>.
func ParseCSV(data []byte) ([]pipeline.Event, error) {
	r := csv.NewReader(bytes.NewReader(stripBOM(data)))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	header := records[0]
	events := make([]pipeline.Event, 0, len(records)-1)
	for i, rec := range records[1:] {
		row := map[string]string{}
		for j, col := range header {
			if j < len(rec) {
				row[strings.TrimSpace(col)] = rec[j]
			}
		}

		ev := pipeline.Event{
			SourceEventID: firstOf(row, "source_event_id"),
			Student: pipeline.EventStudent{
				FullName: firstOf(row, "full_name", "student_name"),
				Email:    firstOf(row, "email", "student_email"),
				Phone:    firstOf(row, "phone", "student_phone"),
			},
			Test: pipeline.EventTest{
				Name:     firstOf(row, "test_name", "test"),
				MaxMarks: defaultMaxMarks,
			},
			StartedAt:   firstOf(row, "started_at"),
			SubmittedAt: firstOf(row, "submitted_at"),
			Answers:     pipeline.AnswerMap{},
			Channel:     firstOf(row, "channel"),
		}
		if ev.SourceEventID == "" {
			ev.SourceEventID = fmt.Sprintf("csv_evt_%d", i)
		}
		if ev.Test.Name == "" {
			ev.Test.Name = "Unknown Test"
		}
		if v := firstOf(row, "max_marks"); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				ev.Test.MaxMarks = n
			}
		}
		ev.Test.MarkingScheme = pipeline.MarkingScheme{"correct": 4, "wrong": -1, "skip": 0}
		if v := firstOf(row, "negative_marking"); v != "" {
			var scheme pipeline.MarkingScheme
			if err := json.Unmarshal([]byte(v), &scheme); err == nil {
				ev.Test.MarkingScheme = scheme
			}
		}

		for col, val := range row {
			if val == "" {
				continue
			}
			key := strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(col)), "Q", "")
			if key != "" && isDigits(key) {
				ev.Answers[key] = strings.ToUpper(strings.TrimSpace(val))
			}
		}
		events = append(events, ev)
	}
	return events, nil
}

func firstOf(row map[string]string, keys ...string) string {
	for _, k := range keys {
		if v, ok := row[k]; ok && v != "" {
			return v
		}
	}
	return ""
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

func stripBOM(data []byte) []byte {
	return bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
}
