package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"
)

type lbFixture struct {
	store Store
	test  Test
}

func newLBFixture(t *testing.T) *lbFixture {
	t.Helper()
	ctx := context.Background()
	store := NewMemoryStore()
	test := Test{ID: "test-1", Name: "Mock GK Round 1", MaxMarks: 100}
	if err := store.InsertTest(ctx, test); err != nil {
		t.Fatal(err)
	}
	return &lbFixture{store: store, test: test}
}

func (f *lbFixture) addScored(t *testing.T, studentID, attemptID string, score, accuracy float64, netCorrect int, at time.Time) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.store.GetStudent(ctx, studentID); err != nil {
		if err := f.store.InsertStudent(ctx, Student{ID: studentID, FullName: "Student " + studentID}); err != nil {
			t.Fatal(err)
		}
	}
	a := Attempt{
		ID: attemptID, StudentID: studentID, TestID: f.test.ID,
		SourceEventID: "evt-" + attemptID, StartedAt: at, SubmittedAt: at,
		Status: StatusScored,
	}
	if err := f.store.InsertAttempt(ctx, a); err != nil {
		t.Fatal(err)
	}
	sc := AttemptScore{
		AttemptID: attemptID, Score: score, Accuracy: accuracy,
		NetCorrect: netCorrect, Correct: netCorrect,
	}
	if err := f.store.UpsertScore(ctx, sc); err != nil {
		t.Fatal(err)
	}
}

func TestRankOrdersByScoreThenAccuracy(t *testing.T) {
	f := newLBFixture(t)
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	// Equal scores: the higher accuracy ranks first.
	f.addScored(t, "stu-a", "att-a", 80, 90.0, 21, at)
	f.addScored(t, "stu-b", "att-b", 80, 95.0, 20, at)
	f.addScored(t, "stu-c", "att-c", 60, 100.0, 15, at)

	lb, err := NewLeaderboardRanker(f.store).Rank(context.Background(), f.test.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(lb.Entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(lb.Entries))
	}
	wantOrder := []string{"stu-b", "stu-a", "stu-c"}
	for i, want := range wantOrder {
		if lb.Entries[i].StudentID != want {
			t.Errorf("rank %d = %s, want %s", i+1, lb.Entries[i].StudentID, want)
		}
		if lb.Entries[i].Rank != i+1 {
			t.Errorf("entry %d rank = %d, want %d", i, lb.Entries[i].Rank, i+1)
		}
	}
}

func TestRankTieBreaksOnNetCorrectThenTime(t *testing.T) {
	f := newLBFixture(t)
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	f.addScored(t, "stu-a", "att-a", 80, 90.0, 20, at.Add(time.Minute))
	f.addScored(t, "stu-b", "att-b", 80, 90.0, 22, at.Add(2*time.Minute))
	// Same score, accuracy, and net correct as stu-a but submitted earlier.
	f.addScored(t, "stu-c", "att-c", 80, 90.0, 20, at)

	lb, err := NewLeaderboardRanker(f.store).Rank(context.Background(), f.test.ID)
	if err != nil {
		t.Fatal(err)
	}
	wantOrder := []string{"stu-b", "stu-c", "stu-a"}
	for i, want := range wantOrder {
		if lb.Entries[i].StudentID != want {
			t.Errorf("rank %d = %s, want %s", i+1, lb.Entries[i].StudentID, want)
		}
	}
}

func TestRankKeepsBestAttemptPerStudent(t *testing.T) {
	f := newLBFixture(t)
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	f.addScored(t, "stu-a", "att-low", 40, 50.0, 10, at)
	f.addScored(t, "stu-a", "att-high", 90, 95.0, 23, at.Add(time.Hour))
	f.addScored(t, "stu-b", "att-b", 60, 80.0, 15, at)

	lb, err := NewLeaderboardRanker(f.store).Rank(context.Background(), f.test.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(lb.Entries) != 2 {
		t.Fatalf("entries = %d, want one per student", len(lb.Entries))
	}
	if lb.Entries[0].AttemptID != "att-high" {
		t.Errorf("top entry attempt = %s, want the student's best attempt", lb.Entries[0].AttemptID)
	}
}

func TestRankExcludesDedupedAttempts(t *testing.T) {
	f := newLBFixture(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	f.addScored(t, "stu-a", "att-a", 80, 90.0, 20, at)
	if err := f.store.InsertStudent(ctx, Student{ID: "stu-b", FullName: "Student stu-b"}); err != nil {
		t.Fatal(err)
	}
	if err := f.store.InsertAttempt(ctx, Attempt{
		ID: "att-dup", StudentID: "stu-b", TestID: f.test.ID,
		SourceEventID: "evt-dup", StartedAt: at,
		Status: StatusDeduped, DuplicateOfID: "att-a",
	}); err != nil {
		t.Fatal(err)
	}

	lb, err := NewLeaderboardRanker(f.store).Rank(ctx, f.test.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(lb.Entries) != 1 || lb.Entries[0].StudentID != "stu-a" {
		t.Errorf("deduped attempts must not appear, got %+v", lb.Entries)
	}
}

func TestRankIncludesFlaggedAttempts(t *testing.T) {
	f := newLBFixture(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	f.addScored(t, "stu-a", "att-a", 80, 90.0, 20, at)
	if err := f.store.SetAttemptStatus(ctx, "att-a", StatusFlagged); err != nil {
		t.Fatal(err)
	}

	lb, err := NewLeaderboardRanker(f.store).Rank(ctx, f.test.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(lb.Entries) != 1 {
		t.Errorf("flagged attempts still rank, got %d entries", len(lb.Entries))
	}
}

func TestRankEmptyTest(t *testing.T) {
	f := newLBFixture(t)

	lb, err := NewLeaderboardRanker(f.store).Rank(context.Background(), f.test.ID)
	if err != nil {
		t.Fatal(err)
	}
	if lb.Entries == nil || len(lb.Entries) != 0 {
		t.Errorf("want empty non-nil entries, got %#v", lb.Entries)
	}
	if lb.TestName != f.test.Name {
		t.Errorf("test name = %q, want %q", lb.TestName, f.test.Name)
	}
}

func TestRankUnknownTest(t *testing.T) {
	f := newLBFixture(t)

	_, err := NewLeaderboardRanker(f.store).Rank(context.Background(), "no-such-test")
	if !errors.Is(err, ErrTestNotFound) {
		t.Errorf("err = %v, want ErrTestNotFound", err)
	}
}
