package pipeline

import (
	"context"
	"time"
)

// AttemptListOpts filters the attempt listing endpoint.
type AttemptListOpts struct {
	TestID        string
	StudentID     string
	Status        string
	HasDuplicates *bool // true: only duplicates, false: only non-duplicates
	DateFrom      time.Time
	DateTo        time.Time
	Search        string // matches student name, email, or phone
	Page          int    // 1-based
	PageSize      int
}

// AttemptDetail is an attempt joined with its owning student and test,
// plus the computed score and flags when present.
type AttemptDetail struct {
	Attempt Attempt       `json:"attempt"`
	Student Student       `json:"student"`
	Test    Test          `json:"test"`
	Score   *AttemptScore `json:"score,omitempty"`
	Flags   []Flag        `json:"flags,omitempty"`
}

// ScoredAttempt is the leaderboard's input row: a qualifying attempt with
// its score and student.
type ScoredAttempt struct {
	Attempt Attempt
	Score   AttemptScore
	Student Student
}

// Stats are aggregate entity counts for dashboards.
type Stats struct {
	TotalAttempts int  `json:"total_attempts"`
	TotalStudents int  `json:"total_students"`
	TotalTests    int  `json:"total_tests"`
	Scored        int  `json:"scored"`
	Deduped       int  `json:"deduped"`
	Flagged       int  `json:"flagged"`
	HasData       bool `json:"has_data"`
}

// Store is the persistence contract the pipeline runs against. Lookups
// return the package sentinel errors (ErrStudentNotFound et al.) when the
// row is absent. InTx runs fn against a store bound to one transaction;
// fn's error rolls the whole unit back.
type Store interface {
	InTx(ctx context.Context, fn func(Store) error) error

	GetStudent(ctx context.Context, id string) (Student, error)
	GetStudentByNormalizedEmail(ctx context.Context, key string) (Student, error)
	GetStudentByNormalizedPhone(ctx context.Context, key string) (Student, error)
	InsertStudent(ctx context.Context, s Student) error
	UpdateStudent(ctx context.Context, s Student) error

	GetTest(ctx context.Context, id string) (Test, error)
	GetTestByName(ctx context.Context, name string) (Test, error)
	InsertTest(ctx context.Context, t Test) error
	ListTests(ctx context.Context) ([]Test, error)

	GetAttempt(ctx context.Context, id string) (Attempt, error)
	GetAttemptBySourceEventID(ctx context.Context, sourceEventID string) (Attempt, error)
	InsertAttempt(ctx context.Context, a Attempt) error
	SetAttemptStatus(ctx context.Context, attemptID, status string) error
	MarkDuplicate(ctx context.Context, attemptID, canonicalID string) error

	// ListAttemptsInWindow returns live (non-DEDUPED) attempts for the
	// student and test whose started_at falls in [from, to], ordered by
	// started_at ascending.
	ListAttemptsInWindow(ctx context.Context, studentID, testID string, from, to time.Time) ([]Attempt, error)
	ListDuplicatesOf(ctx context.Context, canonicalID string) ([]Attempt, error)
	ListAttempts(ctx context.Context, opts AttemptListOpts) ([]AttemptDetail, int, error)

	GetScore(ctx context.Context, attemptID string) (AttemptScore, error)
	UpsertScore(ctx context.Context, sc AttemptScore) error

	InsertFlag(ctx context.Context, f Flag) error
	ListFlags(ctx context.Context, attemptID string) ([]Flag, error)

	// ListScoredAttempts returns every SCORED or FLAGGED attempt for the
	// test, joined with score and student.
	ListScoredAttempts(ctx context.Context, testID string) ([]ScoredAttempt, error)

	Stats(ctx context.Context) (Stats, error)
	Reset(ctx context.Context) error
}
