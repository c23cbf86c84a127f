package pipeline

import "time"

// Attempt status values. Transitions are monotone: INGESTED moves to SCORED
// or DEDUPED exactly once; SCORED may move to FLAGGED; FLAGGED and DEDUPED
// never revert.
const (
	StatusIngested = "INGESTED"
	StatusScored   = "SCORED"
	StatusDeduped  = "DEDUPED"
	StatusFlagged  = "FLAGGED"
)

// AnswerSkip is the sentinel answer token for an unanswered question.
const AnswerSkip = "SKIP"

type Student struct {
	ID              string    `json:"id"`
	FullName        string    `json:"full_name"`
	Email           string    `json:"email,omitempty"`
	Phone           string    `json:"phone,omitempty"`
	NormalizedEmail string    `json:"normalized_email,omitempty"`
	NormalizedPhone string    `json:"normalized_phone,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// MarkingScheme maps outcome ("correct", "wrong", "skip") to point value.
// Missing outcomes fall back to the defaults 4 / -1 / 0.
type MarkingScheme map[string]float64

const (
	DefaultCorrectPoints = 4
	DefaultWrongPoints   = -1
	DefaultSkipPoints    = 0
)

// Points resolves the scheme's per-outcome values, applying defaults for
// any outcome the scheme omits.
func (m MarkingScheme) Points() (correct, wrong, skip float64) {
	correct, wrong, skip = DefaultCorrectPoints, DefaultWrongPoints, DefaultSkipPoints
	if v, ok := m["correct"]; ok {
		correct = v
	}
	if v, ok := m["wrong"]; ok {
		wrong = v
	}
	if v, ok := m["skip"]; ok {
		skip = v
	}
	return correct, wrong, skip
}

type Test struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	MaxMarks      int           `json:"max_marks"`
	MarkingScheme MarkingScheme `json:"marking_scheme"`
	CreatedAt     time.Time     `json:"created_at"`
}

// AnswerMap maps question number (as text, e.g. "1") to an answer token:
// a choice label ("A".."D") or AnswerSkip.
type AnswerMap map[string]string

type Attempt struct {
	ID            string    `json:"id"`
	StudentID     string    `json:"student_id"`
	TestID        string    `json:"test_id"`
	SourceEventID string    `json:"source_event_id"`
	StartedAt     time.Time `json:"started_at"`
	SubmittedAt   time.Time `json:"submitted_at,omitempty"`
	Answers       AnswerMap `json:"answers"`
	RawPayload    []byte    `json:"raw_payload,omitempty"`
	Status        string    `json:"status"`
	DuplicateOfID string    `json:"duplicate_of_attempt_id,omitempty"`
}

// EffectiveTime is the submitted time when present, else the started time.
// Leaderboard tie-breaking uses this.
func (a Attempt) EffectiveTime() time.Time {
	if !a.SubmittedAt.IsZero() {
		return a.SubmittedAt
	}
	return a.StartedAt
}

// ScoreExplanation is the structured breakdown stored alongside a computed
// score.
type ScoreExplanation struct {
	MarkingScheme struct {
		Correct float64 `json:"correct"`
		Wrong   float64 `json:"wrong"`
		Skip    float64 `json:"skip"`
	} `json:"marking_scheme"`
	Counts struct {
		Correct        int `json:"correct"`
		Wrong          int `json:"wrong"`
		Skipped        int `json:"skipped"`
		TotalQuestions int `json:"total_questions"`
	} `json:"counts"`
	Formula       string `json:"formula"`
	AnswerKeyUsed bool   `json:"answer_key_used"`
}

type AttemptScore struct {
	AttemptID   string           `json:"attempt_id"`
	Correct     int              `json:"correct"`
	Wrong       int              `json:"wrong"`
	Skipped     int              `json:"skipped"`
	Accuracy    float64          `json:"accuracy"`
	NetCorrect  int              `json:"net_correct"`
	Score       float64          `json:"score"`
	ComputedAt  time.Time        `json:"computed_at"`
	Explanation ScoreExplanation `json:"explanation"`
}

type Flag struct {
	ID        string    `json:"id"`
	AttemptID string    `json:"attempt_id"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// Event is one inbound attempt event from the exam platform.
type Event struct {
	SourceEventID string       `json:"source_event_id"`
	Student       EventStudent `json:"student"`
	Test          EventTest    `json:"test"`
	StartedAt     string       `json:"started_at,omitempty"`
	SubmittedAt   string       `json:"submitted_at,omitempty"`
	Answers       AnswerMap    `json:"answers"`
	Channel       string       `json:"channel,omitempty"`
}

type EventStudent struct {
	FullName string `json:"full_name"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

type EventTest struct {
	Name          string        `json:"name"`
	MaxMarks      int           `json:"max_marks"`
	MarkingScheme MarkingScheme `json:"negative_marking"`
}
