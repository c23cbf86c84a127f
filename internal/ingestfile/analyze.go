package ingestfile

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/assessops/platform/internal/pipeline"
)

type TestBreakdown struct {
	Name     string `json:"name"`
	Count    int    `json:"count"`
	MaxMarks int    `json:"max_marks"`
}

type AnswerCount struct {
	Answer string `json:"answer"`
	Count  int    `json:"count"`
}

type DurationStats struct {
	AvgMinutes  float64 `json:"avg_minutes"`
	MinMinutes  float64 `json:"min_minutes"`
	MaxMinutes  float64 `json:"max_minutes"`
	SampleCount int     `json:"sample_count"`
}

type DateRange struct {
	Earliest string `json:"earliest"`
	Latest   string `json:"latest"`
	SpanDays int    `json:"span_days"`
}

// Analysis summarizes a batch of raw events before ingestion.
type Analysis struct {
	TotalEvents              int             `json:"total_events"`
	Message                  string          `json:"message,omitempty"`
	UniqueStudents           int             `json:"unique_students"`
	UniqueEmails             int             `json:"unique_emails"`
	UniquePhones             int             `json:"unique_phones"`
	Tests                    []TestBreakdown `json:"tests"`
	AvgQuestionsPerAttempt   float64         `json:"avg_questions_per_attempt"`
	TotalAnswers             int             `json:"total_answers"`
	AnsweredCount            int             `json:"answered_count"`
	SkipCount                int             `json:"skip_count"`
	SkipRatePercent          float64         `json:"skip_rate_percent"`
	TopAnswers               []AnswerCount   `json:"top_answers"`
	Channels                 map[string]int  `json:"channels,omitempty"`
	DurationStats            *DurationStats  `json:"duration_stats,omitempty"`
	DateRange                *DateRange      `json:"date_range,omitempty"`
	PotentialDuplicateGroups int             `json:"potential_duplicate_groups"`
	Filename                 string          `json:"filename,omitempty"`
	FileSizeKB               float64         `json:"file_size_kb,omitempty"`
}

// Analyze computes the pre-ingest summary without touching the store.
func Analyze(events []pipeline.Event) Analysis {
	total := len(events)
	if total == 0 {
		return Analysis{Message: "No events found in file"}
	}

	students := map[string]bool{}
	emails := map[string]bool{}
	phones := map[string]bool{}
	testCounts := map[string]int{}
	testMaxMarks := map[string]int{}
	answerDist := map[string]int{}
	channels := map[string]int{}
	pairCounts := map[string]int{}

	totalAnswers, skipCount := 0, 0
	var durations []float64
	var timestamps []time.Time

	for _, ev := range events {
		if e := strings.ToLower(strings.TrimSpace(ev.Student.Email)); e != "" {
			emails[e] = true
		}
		if p := strings.TrimSpace(ev.Student.Phone); p != "" {
			phones[p] = true
		}
		students[ev.Student.FullName+"|"+ev.Student.Email+"|"+ev.Student.Phone] = true

		name := ev.Test.Name
		testCounts[name]++
		if _, ok := testMaxMarks[name]; !ok {
			testMaxMarks[name] = ev.Test.MaxMarks
		}
		pairCounts[ev.Student.Email+"|"+name]++

		totalAnswers += len(ev.Answers)
		for _, a := range ev.Answers {
			token := strings.ToUpper(strings.TrimSpace(a))
			answerDist[token]++
			if token == pipeline.AnswerSkip {
				skipCount++
			}
		}

		if ev.Channel != "" {
			channels[ev.Channel]++
		}

		started, startedOK := pipeline.ParseTimestamp(ev.StartedAt)
		if startedOK {
			timestamps = append(timestamps, started)
		}
		if submitted, ok := pipeline.ParseTimestamp(ev.SubmittedAt); ok && startedOK {
			mins := submitted.Sub(started).Minutes()
			if mins > 0 && mins < 1440 {
				durations = append(durations, round1(mins))
			}
		}
	}

	an := Analysis{
		TotalEvents:            total,
		UniqueStudents:         len(students),
		UniqueEmails:           len(emails),
		UniquePhones:           len(phones),
		TotalAnswers:           totalAnswers,
		AnsweredCount:          totalAnswers - skipCount,
		SkipCount:              skipCount,
		AvgQuestionsPerAttempt: round1(float64(totalAnswers) / float64(total)),
	}
	if totalAnswers > 0 {
		an.SkipRatePercent = round1(float64(skipCount) / float64(totalAnswers) * 100)
	}

	for name, count := range testCounts {
		an.Tests = append(an.Tests, TestBreakdown{Name: name, Count: count, MaxMarks: testMaxMarks[name]})
	}
	sort.Slice(an.Tests, func(i, j int) bool {
		if an.Tests[i].Count != an.Tests[j].Count {
			return an.Tests[i].Count > an.Tests[j].Count
		}
		return an.Tests[i].Name < an.Tests[j].Name
	})

	for token, count := range answerDist {
		an.TopAnswers = append(an.TopAnswers, AnswerCount{Answer: token, Count: count})
	}
	sort.Slice(an.TopAnswers, func(i, j int) bool {
		if an.TopAnswers[i].Count != an.TopAnswers[j].Count {
			return an.TopAnswers[i].Count > an.TopAnswers[j].Count
		}
		return an.TopAnswers[i].Answer < an.TopAnswers[j].Answer
	})
	if len(an.TopAnswers) > 10 {
		an.TopAnswers = an.TopAnswers[:10]
	}

	if len(channels) > 0 {
		an.Channels = channels
	}

	if len(durations) > 0 {
		ds := DurationStats{SampleCount: len(durations), MinMinutes: durations[0], MaxMinutes: durations[0]}
		sum := 0.0
		for _, d := range durations {
			sum += d
			if d < ds.MinMinutes {
				ds.MinMinutes = d
			}
			if d > ds.MaxMinutes {
				ds.MaxMinutes = d
			}
		}
		ds.AvgMinutes = round1(sum / float64(len(durations)))
		an.DurationStats = &ds
	}

	if len(timestamps) > 0 {
		earliest, latest := timestamps[0], timestamps[0]
		for _, ts := range timestamps {
			if ts.Before(earliest) {
				earliest = ts
			}
			if ts.After(latest) {
				latest = ts
			}
		}
		an.DateRange = &DateRange{
			Earliest: earliest.Format(time.RFC3339),
			Latest:   latest.Format(time.RFC3339),
			SpanDays: int(latest.Sub(earliest).Hours() / 24),
		}
	}

	for _, n := range pairCounts {
		if n > 1 {
			an.PotentialDuplicateGroups++
		}
	}
	return an
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
