package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/assessops/platform/internal/logx"
)

// Dedup defaults. The window tolerates near-simultaneous multi-channel
// submission of the same attempt; the threshold tolerates a couple of
// answer-capture discrepancies while rejecting genuinely distinct attempts.
const (
	DefaultDedupWindow       = 7 * time.Minute
	DefaultDedupSimThreshold = 0.92
	maxDuplicateChainDepth   = 32
)

// DuplicateDetector searches prior attempts of the same student and test
// for a near-identical submission within a time window.
type DuplicateDetector struct {
	store     Store
	window    time.Duration
	threshold float64
}

func NewDuplicateDetector(store Store, window time.Duration, threshold float64) *DuplicateDetector {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	if threshold <= 0 {
		threshold = DefaultDedupSimThreshold
	}
	return &DuplicateDetector{store: store, window: window, threshold: threshold}
}

// AnswerSimilarity is the fraction of agreeing answers over the question
// keys present in both maps. No common keys means 0.0: zero overlap is
// never a duplicate, even if timing matches.
func AnswerSimilarity(a, b AnswerMap) float64 {
	common, matching := 0, 0
	for k, va := range a {
		vb, ok := b[k]
		if !ok {
			continue
		}
		common++
		if va == vb {
			matching++
		}
	}
	if common == 0 {
		return 0.0
	}
	return float64(matching) / float64(common)
}

// FindCanonical returns the canonical attempt the new submission duplicates,
// or ok=false if no candidate clears the similarity threshold. Candidates
// are live (non-DEDUPED) attempts for the same student and test inside the
// symmetric time window, checked in ascending started_at order; the first
// match wins and its duplicate chain is collapsed to the root. The caller
// must ignore a result equal to the newly persisted attempt itself.
func (d *DuplicateDetector) FindCanonical(ctx context.Context, studentID, testID string, startedAt time.Time, answers AnswerMap) (Attempt, bool, error) {
	log := logx.FromContext(ctx)

	candidates, err := d.store.ListAttemptsInWindow(ctx, studentID, testID,
		startedAt.Add(-d.window), startedAt.Add(d.window))
	if err != nil {
		return Attempt{}, false, fmt.Errorf("list dedup candidates: %w", err)
	}

	for _, cand := range candidates {
		sim := AnswerSimilarity(answers, cand.Answers)
		log.Debug("dedup comparison",
			"candidate_id", cand.ID,
			"student_id", studentID,
			"similarity", sim,
			"threshold", d.threshold,
		)
		if sim < d.threshold {
			continue
		}
		canonical, err := ResolveCanonical(ctx, d.store, cand)
		if err != nil {
			return Attempt{}, false, err
		}
		log.Info("duplicate found",
			"candidate_id", cand.ID,
			"canonical_id", canonical.ID,
			"similarity", sim,
		)
		return canonical, true, nil
	}
	return Attempt{}, false, nil
}

// ResolveCanonical walks the duplicate-link chain upward until an attempt
// with no parent is reached. The walk is depth-capped: nothing in the data
// model prevents a malformed chain, so a cycle must not hang the pipeline.
// A dangling parent link stops the walk at the last resolvable attempt.
func ResolveCanonical(ctx context.Context, store Store, a Attempt) (Attempt, error) {
	canonical := a
	for depth := 0; canonical.DuplicateOfID != ""; depth++ {
		if depth >= maxDuplicateChainDepth {
			return Attempt{}, fmt.Errorf("duplicate chain from attempt %s exceeds depth %d", a.ID, maxDuplicateChainDepth)
		}
		parent, err := store.GetAttempt(ctx, canonical.DuplicateOfID)
		if err != nil {
			if errors.Is(err, ErrAttemptNotFound) {
				break
			}
			return Attempt{}, fmt.Errorf("resolve canonical attempt: %w", err)
		}
		canonical = parent
	}
	return canonical, nil
}
