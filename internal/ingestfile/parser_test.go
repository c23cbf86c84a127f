package ingestfile

import (
	"strings"
	"testing"

	"github.com/assessops/platform/internal/pipeline"
)

func TestParseJSONBareArray(t *testing.T) {
	data := []byte(`[
		{
			"source_event_id": "evt-1",
			"student": {"full_name": "Jane Doe", "email": "jane@example.com"},
			"test": {"name": "Mock GK Round 1", "max_marks": 100, "negative_marking": {"correct": 4, "wrong": -1}},
			"started_at": "2025-03-01T10:00:00Z",
			"answers": {"1": "A", "2": "SKIP"}
		}
	]`)

	events, err := ParseJSON(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.SourceEventID != "evt-1" || ev.Student.Email != "jane@example.com" {
		t.Errorf("unexpected event %+v", ev)
	}
	if ev.Test.MarkingScheme["correct"] != 4 || ev.Test.MarkingScheme["wrong"] != -1 {
		t.Errorf("marking scheme = %v", ev.Test.MarkingScheme)
	}
	if ev.Answers["2"] != "SKIP" {
		t.Errorf("answers = %v", ev.Answers)
	}
}

func TestParseJSONWrappedEvents(t *testing.T) {
	data := []byte(`{"events": [{"source_event_id": "evt-1", "student": {"full_name": "Jane"}, "test": {"name": "T"}, "answers": {}}]}`)

	events, err := ParseJSON(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].SourceEventID != "evt-1" {
		t.Errorf("events = %+v", events)
	}
}

func TestParseJSONWithBOM(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte(`[]`)...)
	events, err := ParseJSON(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("events = %d, want 0", len(events))
	}
}

func TestParseJSONMalformed(t *testing.T) {
	if _, err := ParseJSON([]byte(`{"not": "events"}`)); err == nil {
		t.Error("expected an error for JSON without events")
	}
}

func TestParseCSV(t *testing.T) {
	csvData := strings.Join([]string{
		"source_event_id,full_name,email,phone,test_name,started_at,submitted_at,Q1,Q2,q3",
		"evt-1,Jane Doe,jane@example.com,+91 98765 43210,Mock GK Round 1,2025-03-01T10:00:00Z,2025-03-01T10:45:00Z,a,B,skip",
		",Bob Ray,bob@example.com,,,2025-03-01T11:00:00Z,,C,,D",
	}, "\n")

	events, err := ParseCSV([]byte(csvData))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}

	first := events[0]
	if first.SourceEventID != "evt-1" || first.Test.Name != "Mock GK Round 1" {
		t.Errorf("first = %+v", first)
	}
	// Answer columns are case-insensitive and values are uppercased.
	if first.Answers["1"] != "A" || first.Answers["2"] != "B" || first.Answers["3"] != "SKIP" {
		t.Errorf("answers = %v", first.Answers)
	}
	if first.Test.MaxMarks != defaultMaxMarks {
		t.Errorf("max marks = %d, want default %d", first.Test.MaxMarks, defaultMaxMarks)
	}

	second := events[1]
	if second.SourceEventID != "csv_evt_1" {
		t.Errorf("fallback id = %q, want csv_evt_1", second.SourceEventID)
	}
	if second.Test.Name != "Unknown Test" {
		t.Errorf("test name = %q", second.Test.Name)
	}
	// The empty Q2 cell produces no answer entry.
	if _, ok := second.Answers["2"]; ok {
		t.Errorf("answers = %v, empty cells must be dropped", second.Answers)
	}
}

func TestParseCSVStudentNameFallback(t *testing.T) {
	csvData := "student_name,student_email,test,max_marks,negative_marking\n" +
		`Bob Ray,bob@example.com,Quiz,120,"{""correct"": 3, ""wrong"": 0}"`

	events, err := ParseCSV([]byte(csvData))
	if err != nil {
		t.Fatal(err)
	}
	ev := events[0]
	if ev.Student.FullName != "Bob Ray" || ev.Student.Email != "bob@example.com" {
		t.Errorf("student = %+v", ev.Student)
	}
	if ev.Test.Name != "Quiz" || ev.Test.MaxMarks != 120 {
		t.Errorf("test = %+v", ev.Test)
	}
	if ev.Test.MarkingScheme["correct"] != 3 {
		t.Errorf("scheme = %v", ev.Test.MarkingScheme)
	}
}

func TestParseFileDispatch(t *testing.T) {
	if _, err := ParseFile("data.txt", []byte("x")); err == nil {
		t.Error("expected an error for an unsupported extension")
	}
	if _, err := ParseFile("data.JSON", []byte("[]")); err != nil {
		t.Errorf("uppercase extension should dispatch: %v", err)
	}
}

func TestAnalyze(t *testing.T) {
	events := []pipeline.Event{
		{
			SourceEventID: "evt-1",
			Student:       pipeline.EventStudent{FullName: "Jane Doe", Email: "jane@example.com", Phone: "111"},
			Test:          pipeline.EventTest{Name: "Quiz A", MaxMarks: 100},
			StartedAt:     "2025-03-01T10:00:00Z",
			SubmittedAt:   "2025-03-01T10:30:00Z",
			Answers:       pipeline.AnswerMap{"1": "A", "2": "SKIP"},
			Channel:       "web",
		},
		{
			SourceEventID: "evt-2",
			Student:       pipeline.EventStudent{FullName: "Jane Doe", Email: "jane@example.com", Phone: "111"},
			Test:          pipeline.EventTest{Name: "Quiz A", MaxMarks: 100},
			StartedAt:     "2025-03-01T10:02:00Z",
			Answers:       pipeline.AnswerMap{"1": "A", "2": "SKIP"},
			Channel:       "whatsapp",
		},
		{
			SourceEventID: "evt-3",
			Student:       pipeline.EventStudent{FullName: "Bob Ray", Email: "bob@example.com"},
			Test:          pipeline.EventTest{Name: "Quiz B", MaxMarks: 300},
			StartedAt:     "2025-03-02T10:00:00Z",
			Answers:       pipeline.AnswerMap{"1": "B", "2": "C"},
		},
	}

	an := Analyze(events)

	if an.TotalEvents != 3 || an.UniqueStudents != 2 || an.UniqueEmails != 2 || an.UniquePhones != 1 {
		t.Errorf("counts = %d/%d/%d/%d", an.TotalEvents, an.UniqueStudents, an.UniqueEmails, an.UniquePhones)
	}
	if an.TotalAnswers != 6 || an.SkipCount != 2 || an.AnsweredCount != 4 {
		t.Errorf("answers = %d total, %d skipped, %d answered", an.TotalAnswers, an.SkipCount, an.AnsweredCount)
	}
	if an.SkipRatePercent != 33.3 {
		t.Errorf("skip rate = %v, want 33.3", an.SkipRatePercent)
	}
	if len(an.Tests) != 2 || an.Tests[0].Name != "Quiz A" || an.Tests[0].Count != 2 {
		t.Errorf("tests = %+v", an.Tests)
	}
	// Same email hitting the same test twice is one potential duplicate group.
	if an.PotentialDuplicateGroups != 1 {
		t.Errorf("duplicate groups = %d, want 1", an.PotentialDuplicateGroups)
	}
	if an.Channels["web"] != 1 || an.Channels["whatsapp"] != 1 {
		t.Errorf("channels = %v", an.Channels)
	}
	if an.DurationStats == nil || an.DurationStats.SampleCount != 1 || an.DurationStats.AvgMinutes != 30.0 {
		t.Errorf("duration stats = %+v", an.DurationStats)
	}
	if an.DateRange == nil || an.DateRange.SpanDays != 1 {
		t.Errorf("date range = %+v", an.DateRange)
	}
}

func TestAnalyzeEmpty(t *testing.T) {
	an := Analyze(nil)
	if an.TotalEvents != 0 || an.Message == "" {
		t.Errorf("empty analysis = %+v", an)
	}
}
