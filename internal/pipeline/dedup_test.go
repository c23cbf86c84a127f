package pipeline

import (
	"context"
	"testing"
	"time"
)

func TestAnswerSimilarity(t *testing.T) {
	cases := []struct {
		name string
		a, b AnswerMap
		want float64
	}{
		{
			"identical",
			AnswerMap{"1": "A", "2": "B", "3": "SKIP"},
			AnswerMap{"1": "A", "2": "B", "3": "SKIP"},
			1.0,
		},
		{
			"two of three agree",
			AnswerMap{"1": "A", "2": "B", "3": "C"},
			AnswerMap{"1": "A", "2": "B", "3": "D"},
			2.0 / 3.0,
		},
		{
			"no common keys",
			AnswerMap{"1": "A"},
			AnswerMap{"2": "A"},
			0.0,
		},
		{
			"both empty",
			AnswerMap{},
			AnswerMap{},
			0.0,
		},
		{
			"only common keys counted",
			AnswerMap{"1": "A", "2": "B", "9": "C"},
			AnswerMap{"1": "A", "2": "B"},
			1.0,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := AnswerSimilarity(tc.a, tc.b); got != tc.want {
				t.Errorf("AnswerSimilarity = %v, want %v", got, tc.want)
			}
		})
	}
}

func seedAttempt(t *testing.T, store Store, a Attempt) Attempt {
	t.Helper()
	if a.Status == "" {
		a.Status = StatusScored
	}
	if err := store.InsertAttempt(context.Background(), a); err != nil {
		t.Fatalf("insert attempt %s: %v", a.ID, err)
	}
	return a
}

func TestFindCanonicalWithinWindow(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	answers := AnswerMap{"1": "A", "2": "B", "3": "C"}

	orig := seedAttempt(t, store, Attempt{
		ID: "att-1", StudentID: "stu-1", TestID: "test-1",
		SourceEventID: "evt-1", StartedAt: base, Answers: answers,
	})

	d := NewDuplicateDetector(store, 7*time.Minute, 0.92)

	canonical, found, err := d.FindCanonical(ctx, "stu-1", "test-1", base.Add(3*time.Minute), answers)
	if err != nil {
		t.Fatal(err)
	}
	if !found || canonical.ID != orig.ID {
		t.Fatalf("expected canonical %s, got found=%v id=%s", orig.ID, found, canonical.ID)
	}
}

func TestFindCanonicalOutsideWindow(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	answers := AnswerMap{"1": "A", "2": "B"}

	seedAttempt(t, store, Attempt{
		ID: "att-1", StudentID: "stu-1", TestID: "test-1",
		SourceEventID: "evt-1", StartedAt: base, Answers: answers,
	})

	d := NewDuplicateDetector(store, 7*time.Minute, 0.92)

	_, found, err := d.FindCanonical(ctx, "stu-1", "test-1", base.Add(8*time.Minute), answers)
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("attempt 8 minutes out should not match a 7 minute window")
	}
}

func TestFindCanonicalBelowThreshold(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	seedAttempt(t, store, Attempt{
		ID: "att-1", StudentID: "stu-1", TestID: "test-1",
		SourceEventID: "evt-1", StartedAt: base,
		Answers: AnswerMap{"1": "A", "2": "B", "3": "C"},
	})

	d := NewDuplicateDetector(store, 7*time.Minute, 0.92)

	// 2/3 similarity is well under 0.92.
	_, found, err := d.FindCanonical(ctx, "stu-1", "test-1", base.Add(time.Minute),
		AnswerMap{"1": "A", "2": "B", "3": "D"})
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("dissimilar answers should not be deduplicated")
	}
}

func TestFindCanonicalCollapsesChain(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	answers := AnswerMap{"1": "A", "2": "B"}

	root := seedAttempt(t, store, Attempt{
		ID: "att-root", StudentID: "stu-1", TestID: "test-1",
		SourceEventID: "evt-1", StartedAt: base, Answers: answers,
	})
	// Mid is live but already linked to root; a new match against mid must
	// resolve to root.
	seedAttempt(t, store, Attempt{
		ID: "att-mid", StudentID: "stu-1", TestID: "test-1",
		SourceEventID: "evt-2", StartedAt: base.Add(-time.Minute),
		Answers: answers, DuplicateOfID: root.ID,
	})

	d := NewDuplicateDetector(store, 7*time.Minute, 0.92)

	canonical, found, err := d.FindCanonical(ctx, "stu-1", "test-1", base.Add(2*time.Minute), answers)
	if err != nil {
		t.Fatal(err)
	}
	if !found || canonical.ID != root.ID {
		t.Fatalf("expected chain to collapse to %s, got found=%v id=%s", root.ID, found, canonical.ID)
	}
}

func TestFindCanonicalSkipsDedupedCandidates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	answers := AnswerMap{"1": "A"}

	seedAttempt(t, store, Attempt{
		ID: "att-dup", StudentID: "stu-1", TestID: "test-1",
		SourceEventID: "evt-1", StartedAt: base, Answers: answers,
		Status: StatusDeduped, DuplicateOfID: "att-gone",
	})

	d := NewDuplicateDetector(store, 7*time.Minute, 0.92)

	_, found, err := d.FindCanonical(ctx, "stu-1", "test-1", base, answers)
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("DEDUPED attempts must not be dedup candidates")
	}
}

func TestResolveCanonicalCycleGuard(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	a := seedAttempt(t, store, Attempt{
		ID: "att-a", StudentID: "stu-1", TestID: "test-1",
		SourceEventID: "evt-a", StartedAt: base, DuplicateOfID: "att-b",
	})
	seedAttempt(t, store, Attempt{
		ID: "att-b", StudentID: "stu-1", TestID: "test-1",
		SourceEventID: "evt-b", StartedAt: base, DuplicateOfID: "att-a",
	})

	if _, err := ResolveCanonical(ctx, store, a); err == nil {
		t.Fatal("expected an error resolving a cyclic duplicate chain")
	}
}

func TestResolveCanonicalDanglingParent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	a := seedAttempt(t, store, Attempt{
		ID: "att-a", StudentID: "stu-1", TestID: "test-1",
		SourceEventID: "evt-a", StartedAt: base, DuplicateOfID: "att-missing",
	})

	got, err := ResolveCanonical(ctx, store, a)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != a.ID {
		t.Errorf("dangling parent should stop the walk at %s, got %s", a.ID, got.ID)
	}
}
