package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/assessops/platform/internal/logx"
)

// Per-event outcome statuses reported by ProcessEvent.
const (
	ResultScored  = StatusScored
	ResultDeduped = StatusDeduped
	ResultSkipped = "SKIPPED"
	ResultWarning = "WARNING"
	ResultError   = "ERROR"
)

// Result is the outcome of processing one event.
type Result struct {
	SourceEventID string `json:"source_event_id"`
	AttemptID     string `json:"attempt_id,omitempty"`
	Status        string `json:"status"`
	Message       string `json:"message"`
}

// BatchResult enumerates per-event outcomes plus aggregate counts so no
// event outcome is silently dropped.
type BatchResult struct {
	Ingested   int      `json:"ingested"`
	Duplicates int      `json:"duplicates"`
	Errors     int      `json:"errors"`
	Skipped    int      `json:"skipped"`
	Warnings   int      `json:"warnings"`
	Results    []Result `json:"results"`
}

// DuplicateThread is a canonical attempt and everything linked to it.
type DuplicateThread struct {
	Canonical  Attempt   `json:"canonical"`
	Duplicates []Attempt `json:"duplicates"`
}

// Option configures an AttemptPipeline.
type Option func(*AttemptPipeline)

func WithDedupWindow(d time.Duration) Option {
	return func(p *AttemptPipeline) { p.dedupWindow = d }
}

func WithSimilarityThreshold(t float64) Option {
	return func(p *AttemptPipeline) { p.simThreshold = t }
}

// AttemptPipeline sequences student resolution, test resolution, attempt
// persistence, duplicate detection, and scoring for each inbound event.
// Every event runs inside one store transaction, committed or rolled back
// as a whole.
type AttemptPipeline struct {
	store        Store
	dedupWindow  time.Duration
	simThreshold float64
}

func New(store Store, opts ...Option) *AttemptPipeline {
	p := &AttemptPipeline{
		store:        store,
		dedupWindow:  DefaultDedupWindow,
		simThreshold: DefaultDedupSimThreshold,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ProcessBatch runs events through the pipeline one at a time,
// best-effort per item: one event's failure is recorded as an ERROR
// result and the loop continues.
func (p *AttemptPipeline) ProcessBatch(ctx context.Context, events []Event) BatchResult {
	log := logx.FromContext(ctx)
	log.Info("ingestion started", "event_count", len(events))
	start := time.Now()

	br := BatchResult{Results: make([]Result, 0, len(events))}
	for _, ev := range events {
		res := p.ProcessEvent(ctx, ev)
		br.Results = append(br.Results, res)
		switch res.Status {
		case ResultScored:
			br.Ingested++
		case ResultDeduped:
			br.Duplicates++
		case ResultSkipped:
			br.Skipped++
		case ResultWarning:
			br.Warnings++
		default:
			br.Errors++
		}
	}

	log.Info("ingestion complete",
		"ingested", br.Ingested,
		"duplicates", br.Duplicates,
		"errors", br.Errors,
		"skipped", br.Skipped,
		"warnings", br.Warnings,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return br
}

// ProcessEvent validates, stores, deduplicates, and scores a single event
// inside one transaction. Store failures roll the event's work back and
// surface as an ERROR result; they never panic or abort a batch.
func (p *AttemptPipeline) ProcessEvent(ctx context.Context, ev Event) Result {
	var res Result
	err := p.store.InTx(ctx, func(tx Store) error {
		var txErr error
		res, txErr = p.processEvent(ctx, tx, ev)
		return txErr
	})
	if err != nil {
		logx.FromContext(ctx).Error("event processing failed",
			"source_event_id", ev.SourceEventID, "error", err)
		return Result{
			SourceEventID: ev.SourceEventID,
			Status:        ResultError,
			Message:       err.Error(),
		}
	}
	return res
}

func (p *AttemptPipeline) processEvent(ctx context.Context, tx Store, ev Event) (Result, error) {
	log := logx.FromContext(ctx)

	// Re-ingestion of a known source event is a success no-op.
	existing, err := tx.GetAttemptBySourceEventID(ctx, ev.SourceEventID)
	if err == nil {
		return Result{
			SourceEventID: ev.SourceEventID,
			AttemptID:     existing.ID,
			Status:        ResultSkipped,
			Message:       fmt.Sprintf("Already ingested (attempt %s)", existing.ID),
		}, nil
	}
	if !errors.Is(err, ErrAttemptNotFound) {
		return Result{}, fmt.Errorf("lookup source event: %w", err)
	}

	if strings.TrimSpace(ev.Student.Email) == "" && strings.TrimSpace(ev.Student.Phone) == "" {
		return Result{
			SourceEventID: ev.SourceEventID,
			Status:        ResultError,
			Message:       "Student must have at least an email or phone",
		}, nil
	}

	startedAt, ok := ParseTimestamp(ev.StartedAt)
	if !ok {
		return Result{
			SourceEventID: ev.SourceEventID,
			Status:        ResultWarning,
			Message:       fmt.Sprintf("Skipped: malformed timestamp (%s)", ev.StartedAt),
		}, nil
	}
	submittedAt, _ := ParseTimestamp(ev.SubmittedAt)

	student, err := NewStudentResolver(tx).Resolve(ctx, ev.Student)
	if err != nil {
		if errors.Is(err, ErrIdentityMissing) {
			return Result{
				SourceEventID: ev.SourceEventID,
				Status:        ResultError,
				Message:       err.Error(),
			}, nil
		}
		return Result{}, err
	}

	test, err := NewTestResolver(tx).Resolve(ctx, ev.Test)
	if err != nil {
		return Result{}, err
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		return Result{}, fmt.Errorf("marshal raw payload: %w", err)
	}
	attempt := Attempt{
		ID:            uuid.NewString(),
		StudentID:     student.ID,
		TestID:        test.ID,
		SourceEventID: ev.SourceEventID,
		StartedAt:     startedAt,
		SubmittedAt:   submittedAt,
		Answers:       ev.Answers,
		RawPayload:    raw,
		Status:        StatusIngested,
	}
	if err := tx.InsertAttempt(ctx, attempt); err != nil {
		return Result{}, fmt.Errorf("insert attempt: %w", err)
	}
	log.Info("attempt ingested", "attempt_id", attempt.ID, "student_id", student.ID)

	detector := NewDuplicateDetector(tx, p.dedupWindow, p.simThreshold)
	canonical, found, err := detector.FindCanonical(ctx, student.ID, test.ID, startedAt, ev.Answers)
	if err != nil {
		return Result{}, err
	}
	if found && canonical.ID != attempt.ID {
		if err := tx.MarkDuplicate(ctx, attempt.ID, canonical.ID); err != nil {
			return Result{}, fmt.Errorf("mark duplicate: %w", err)
		}
		return Result{
			SourceEventID: ev.SourceEventID,
			AttemptID:     attempt.ID,
			Status:        ResultDeduped,
			Message:       fmt.Sprintf("Duplicate of attempt %s", canonical.ID),
		}, nil
	}

	if _, err := NewScoringEngine(tx).Compute(ctx, attempt, test.MarkingScheme, nil); err != nil {
		return Result{}, err
	}
	if err := tx.SetAttemptStatus(ctx, attempt.ID, StatusScored); err != nil {
		return Result{}, fmt.Errorf("set status: %w", err)
	}

	return Result{
		SourceEventID: ev.SourceEventID,
		AttemptID:     attempt.ID,
		Status:        ResultScored,
		Message:       "Ingested and scored successfully",
	}, nil
}

// RecomputeScore re-runs the ScoringEngine for an attempt. A FLAGGED
// attempt keeps its status (flag dominates); a DEDUPED attempt is rejected,
// since it is never independently scored.
func (p *AttemptPipeline) RecomputeScore(ctx context.Context, attemptID string) (AttemptScore, error) {
	var sc AttemptScore
	err := p.store.InTx(ctx, func(tx Store) error {
		a, err := tx.GetAttempt(ctx, attemptID)
		if err != nil {
			return err
		}
		if a.Status == StatusDeduped {
			return ErrAttemptDeduped
		}
		test, err := tx.GetTest(ctx, a.TestID)
		if err != nil {
			return err
		}
		sc, err = NewScoringEngine(tx).Compute(ctx, a, test.MarkingScheme, nil)
		if err != nil {
			return err
		}
		if a.Status != StatusFlagged {
			return tx.SetAttemptStatus(ctx, a.ID, StatusScored)
		}
		return nil
	})
	if err != nil {
		return AttemptScore{}, err
	}
	return sc, nil
}

// FlagAttempt appends a flag to an attempt. The status transition to
// FLAGGED only applies from SCORED (or FLAGGED itself); flags on other
// statuses are recorded as annotations without a transition.
func (p *AttemptPipeline) FlagAttempt(ctx context.Context, attemptID, reason string) (Flag, error) {
	var flag Flag
	err := p.store.InTx(ctx, func(tx Store) error {
		a, err := tx.GetAttempt(ctx, attemptID)
		if err != nil {
			return err
		}
		flag = Flag{
			ID:        uuid.NewString(),
			AttemptID: a.ID,
			Reason:    reason,
			CreatedAt: time.Now().UTC(),
		}
		if err := tx.InsertFlag(ctx, flag); err != nil {
			return fmt.Errorf("insert flag: %w", err)
		}
		if a.Status == StatusScored || a.Status == StatusFlagged {
			return tx.SetAttemptStatus(ctx, a.ID, StatusFlagged)
		}
		return nil
	})
	if err != nil {
		return Flag{}, err
	}
	logx.FromContext(ctx).Info("attempt flagged", "attempt_id", attemptID, "reason", reason)
	return flag, nil
}

// GetDuplicateThread walks from the attempt to its canonical root and
// returns every attempt currently linked to that root.
func (p *AttemptPipeline) GetDuplicateThread(ctx context.Context, attemptID string) (DuplicateThread, error) {
	a, err := p.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return DuplicateThread{}, err
	}
	canonical, err := ResolveCanonical(ctx, p.store, a)
	if err != nil {
		return DuplicateThread{}, err
	}
	dups, err := p.store.ListDuplicatesOf(ctx, canonical.ID)
	if err != nil {
		return DuplicateThread{}, fmt.Errorf("list duplicates: %w", err)
	}
	return DuplicateThread{Canonical: canonical, Duplicates: dups}, nil
}

// GetLeaderboard builds the ranking for a test (see LeaderboardRanker).
func (p *AttemptPipeline) GetLeaderboard(ctx context.Context, testID string) (Leaderboard, error) {
	return NewLeaderboardRanker(p.store).Rank(ctx, testID)
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses ISO-8601 text, tolerating a trailing "Z" (UTC) and
// zone-less values (treated as UTC). ok is false for empty or malformed
// input.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
