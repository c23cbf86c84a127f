package pipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/assessops/platform/internal/logx"
)

// ScoringEngine computes and persists marking-scheme scores for attempts.
//
// No authoritative answer key exists in the default ingestion path, so
// every non-SKIP token counts as correct; the wrong bucket only fills when
// a key is supplied. The key path is kept live for future answer-key
// support.
type ScoringEngine struct {
	store Store
}

func NewScoringEngine(store Store) *ScoringEngine {
	return &ScoringEngine{store: store}
}

// Compute scores the attempt against the scheme, upserting the result.
// A prior score for the attempt is overwritten in place; the operation is
// idempotent for identical inputs. answerKey may be nil.
func (e *ScoringEngine) Compute(ctx context.Context, a Attempt, scheme MarkingScheme, answerKey AnswerMap) (AttemptScore, error) {
	sc := Score(a, scheme, answerKey)
	if err := e.store.UpsertScore(ctx, sc); err != nil {
		return AttemptScore{}, fmt.Errorf("upsert score: %w", err)
	}
	logx.FromContext(ctx).Info("score computed",
		"attempt_id", a.ID,
		"student_id", a.StudentID,
		"score", sc.Score,
		"accuracy", sc.Accuracy,
	)
	return sc, nil
}

// Score is the pure computation behind Compute.
func Score(a Attempt, scheme MarkingScheme, answerKey AnswerMap) AttemptScore {
	correctPts, wrongPts, skipPts := scheme.Points()

	var correct, wrong, skipped int
	for qNo, answer := range a.Answers {
		switch {
		case answer == AnswerSkip:
			skipped++
		case answerKey != nil && answerKey[qNo] != "":
			if answer == answerKey[qNo] {
				correct++
			} else {
				wrong++
			}
		default:
			correct++
		}
	}

	answered := correct + wrong
	accuracy := 0.0
	if answered > 0 {
		accuracy = float64(correct) / float64(answered) * 100
	}
	score := float64(correct)*correctPts + float64(wrong)*wrongPts + float64(skipped)*skipPts

	sc := AttemptScore{
		AttemptID:  a.ID,
		Correct:    correct,
		Wrong:      wrong,
		Skipped:    skipped,
		Accuracy:   round2(accuracy),
		NetCorrect: correct - wrong,
		Score:      round2(score),
		ComputedAt: time.Now().UTC(),
	}
	sc.Explanation.MarkingScheme.Correct = correctPts
	sc.Explanation.MarkingScheme.Wrong = wrongPts
	sc.Explanation.MarkingScheme.Skip = skipPts
	sc.Explanation.Counts.Correct = correct
	sc.Explanation.Counts.Wrong = wrong
	sc.Explanation.Counts.Skipped = skipped
	sc.Explanation.Counts.TotalQuestions = len(a.Answers)
	sc.Explanation.Formula = fmt.Sprintf("(%d x %g) + (%d x %g) + (%d x %g) = %g",
		correct, correctPts, wrong, wrongPts, skipped, skipPts, sc.Score)
	sc.Explanation.AnswerKeyUsed = answerKey != nil
	return sc
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
