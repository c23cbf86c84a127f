package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/assessops/platform/internal/logx"
)

type LeaderboardEntry struct {
	Rank        int       `json:"rank"`
	StudentID   string    `json:"student_id"`
	FullName    string    `json:"full_name"`
	Email       string    `json:"email,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	AttemptID   string    `json:"attempt_id"`
	Score       float64   `json:"score"`
	Accuracy    float64   `json:"accuracy"`
	NetCorrect  int       `json:"net_correct"`
	Correct     int       `json:"correct"`
	Wrong       int       `json:"wrong"`
	Skipped     int       `json:"skipped"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type Leaderboard struct {
	TestID   string             `json:"test_id"`
	TestName string             `json:"test_name"`
	Entries  []LeaderboardEntry `json:"entries"`
}

// LeaderboardRanker produces the per-test ranking from already-scored data.
type LeaderboardRanker struct {
	store Store
}

func NewLeaderboardRanker(store Store) *LeaderboardRanker {
	return &LeaderboardRanker{store: store}
}

// Rank builds the leaderboard for a test: each student's best qualifying
// (SCORED or FLAGGED) attempt, ordered by score desc, accuracy desc,
// net-correct desc, then effective submission time asc. Ranks are dense
// 1..N. A residual tie on all four keys keeps stable iteration order; no
// fifth tie-break is defined. Returns ErrTestNotFound for an unknown test
// and an empty ranking for a known test with no qualifying attempts.
func (r *LeaderboardRanker) Rank(ctx context.Context, testID string) (Leaderboard, error) {
	test, err := r.store.GetTest(ctx, testID)
	if err != nil {
		return Leaderboard{}, err
	}

	rows, err := r.store.ListScoredAttempts(ctx, testID)
	if err != nil {
		return Leaderboard{}, fmt.Errorf("list scored attempts: %w", err)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Score.Score != b.Score.Score {
			return a.Score.Score > b.Score.Score
		}
		if a.Score.Accuracy != b.Score.Accuracy {
			return a.Score.Accuracy > b.Score.Accuracy
		}
		if a.Score.NetCorrect != b.Score.NetCorrect {
			return a.Score.NetCorrect > b.Score.NetCorrect
		}
		return a.Attempt.EffectiveTime().Before(b.Attempt.EffectiveTime())
	})

	// After the global sort, the first row seen per student is that
	// student's best attempt.
	lb := Leaderboard{TestID: test.ID, TestName: test.Name, Entries: []LeaderboardEntry{}}
	seen := map[string]bool{}
	for _, row := range rows {
		if seen[row.Student.ID] {
			continue
		}
		seen[row.Student.ID] = true
		lb.Entries = append(lb.Entries, LeaderboardEntry{
			Rank:        len(lb.Entries) + 1,
			StudentID:   row.Student.ID,
			FullName:    row.Student.FullName,
			Email:       row.Student.Email,
			Phone:       row.Student.Phone,
			AttemptID:   row.Attempt.ID,
			Score:       row.Score.Score,
			Accuracy:    row.Score.Accuracy,
			NetCorrect:  row.Score.NetCorrect,
			Correct:     row.Score.Correct,
			Wrong:       row.Score.Wrong,
			Skipped:     row.Score.Skipped,
			SubmittedAt: row.Attempt.EffectiveTime(),
		})
	}

	logx.FromContext(ctx).Info("leaderboard generated",
		"test_id", test.ID,
		"test_name", test.Name,
		"entries", len(lb.Entries),
	)
	return lb, nil
}
