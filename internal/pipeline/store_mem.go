package pipeline

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// memoryStore is a mutex-guarded map store for tests and dev runs.
// InTx snapshots all maps and restores them if fn fails, which gives the
// per-event rollback the pipeline relies on; batches are sequential so the
// snapshot never races a concurrent writer in practice.
type memoryStore struct {
	mu       sync.RWMutex
	students map[string]Student
	tests    map[string]Test
	attempts map[string]Attempt
	scores   map[string]AttemptScore
	flags    map[string][]Flag
}

func NewMemoryStore() Store {
	return &memoryStore{
		students: map[string]Student{},
		tests:    map[string]Test{},
		attempts: map[string]Attempt{},
		scores:   map[string]AttemptScore{},
		flags:    map[string][]Flag{},
	}
}

func (m *memoryStore) snapshot() *memoryStore {
	snap := &memoryStore{
		students: make(map[string]Student, len(m.students)),
		tests:    make(map[string]Test, len(m.tests)),
		attempts: make(map[string]Attempt, len(m.attempts)),
		scores:   make(map[string]AttemptScore, len(m.scores)),
		flags:    make(map[string][]Flag, len(m.flags)),
	}
	for k, v := range m.students {
		snap.students[k] = v
	}
	for k, v := range m.tests {
		snap.tests[k] = v
	}
	for k, v := range m.attempts {
		snap.attempts[k] = v
	}
	for k, v := range m.scores {
		snap.scores[k] = v
	}
	for k, v := range m.flags {
		snap.flags[k] = append([]Flag(nil), v...)
	}
	return snap
}

func (m *memoryStore) InTx(ctx context.Context, fn func(Store) error) error {
	m.mu.Lock()
	snap := m.snapshot()
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.students = snap.students
		m.tests = snap.tests
		m.attempts = snap.attempts
		m.scores = snap.scores
		m.flags = snap.flags
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memoryStore) GetStudent(ctx context.Context, id string) (Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.students[id]
	if !ok {
		return Student{}, ErrStudentNotFound
	}
	return s, nil
}

func (m *memoryStore) GetStudentByNormalizedEmail(ctx context.Context, key string) (Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.students {
		if s.NormalizedEmail == key {
			return s, nil
		}
	}
	return Student{}, ErrStudentNotFound
}

func (m *memoryStore) GetStudentByNormalizedPhone(ctx context.Context, key string) (Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.students {
		if s.NormalizedPhone == key {
			return s, nil
		}
	}
	return Student{}, ErrStudentNotFound
}

func (m *memoryStore) InsertStudent(ctx context.Context, s Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students[s.ID] = s
	return nil
}

func (m *memoryStore) UpdateStudent(ctx context.Context, s Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.students[s.ID]; !ok {
		return ErrStudentNotFound
	}
	m.students[s.ID] = s
	return nil
}

func (m *memoryStore) GetTest(ctx context.Context, id string) (Test, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tests[id]
	if !ok {
		return Test{}, ErrTestNotFound
	}
	return t, nil
}

func (m *memoryStore) GetTestByName(ctx context.Context, name string) (Test, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tests {
		if t.Name == name {
			return t, nil
		}
	}
	return Test{}, ErrTestNotFound
}

func (m *memoryStore) InsertTest(ctx context.Context, t Test) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tests[t.ID] = t
	return nil
}

func (m *memoryStore) ListTests(ctx context.Context) ([]Test, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Test, 0, len(m.tests))
	for _, t := range m.tests {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memoryStore) GetAttempt(ctx context.Context, id string) (Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.attempts[id]
	if !ok {
		return Attempt{}, ErrAttemptNotFound
	}
	return a, nil
}

func (m *memoryStore) GetAttemptBySourceEventID(ctx context.Context, sourceEventID string) (Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.attempts {
		if a.SourceEventID == sourceEventID {
			return a, nil
		}
	}
	return Attempt{}, ErrAttemptNotFound
}

func (m *memoryStore) InsertAttempt(ctx context.Context, a Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.attempts {
		if existing.SourceEventID == a.SourceEventID {
			return ErrDuplicateSourceEvent
		}
	}
	m.attempts[a.ID] = a
	return nil
}

func (m *memoryStore) SetAttemptStatus(ctx context.Context, attemptID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[attemptID]
	if !ok {
		return ErrAttemptNotFound
	}
	a.Status = status
	m.attempts[attemptID] = a
	return nil
}

func (m *memoryStore) MarkDuplicate(ctx context.Context, attemptID, canonicalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[attemptID]
	if !ok {
		return ErrAttemptNotFound
	}
	a.Status = StatusDeduped
	a.DuplicateOfID = canonicalID
	m.attempts[attemptID] = a
	return nil
}

func (m *memoryStore) ListAttemptsInWindow(ctx context.Context, studentID, testID string, from, to time.Time) ([]Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Attempt
	for _, a := range m.attempts {
		if a.StudentID != studentID || a.TestID != testID || a.Status == StatusDeduped {
			continue
		}
		if a.StartedAt.Before(from) || a.StartedAt.After(to) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (m *memoryStore) ListDuplicatesOf(ctx context.Context, canonicalID string) ([]Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Attempt
	for _, a := range m.attempts {
		if a.DuplicateOfID == canonicalID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (m *memoryStore) ListAttempts(ctx context.Context, opts AttemptListOpts) ([]AttemptDetail, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var rows []AttemptDetail
	for _, a := range m.attempts {
		if opts.TestID != "" && a.TestID != opts.TestID {
			continue
		}
		if opts.StudentID != "" && a.StudentID != opts.StudentID {
			continue
		}
		if opts.Status != "" && a.Status != opts.Status {
			continue
		}
		if opts.HasDuplicates != nil && *opts.HasDuplicates != (a.DuplicateOfID != "") {
			continue
		}
		if !opts.DateFrom.IsZero() && a.StartedAt.Before(opts.DateFrom) {
			continue
		}
		if !opts.DateTo.IsZero() && a.StartedAt.After(opts.DateTo) {
			continue
		}
		student := m.students[a.StudentID]
		if opts.Search != "" && !matchesSearch(student, opts.Search) {
			continue
		}
		d := AttemptDetail{Attempt: a, Student: student, Test: m.tests[a.TestID]}
		if sc, ok := m.scores[a.ID]; ok {
			scCopy := sc
			d.Score = &scCopy
		}
		d.Flags = append([]Flag(nil), m.flags[a.ID]...)
		rows = append(rows, d)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Attempt.StartedAt.After(rows[j].Attempt.StartedAt)
	})

	total := len(rows)
	page, size := opts.Page, opts.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	lo := (page - 1) * size
	if lo > total {
		lo = total
	}
	hi := lo + size
	if hi > total {
		hi = total
	}
	return rows[lo:hi], total, nil
}

func matchesSearch(s Student, q string) bool {
	q = strings.ToLower(q)
	return strings.Contains(strings.ToLower(s.FullName), q) ||
		strings.Contains(strings.ToLower(s.Email), q) ||
		strings.Contains(strings.ToLower(s.Phone), q)
}

func (m *memoryStore) GetScore(ctx context.Context, attemptID string) (AttemptScore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sc, ok := m.scores[attemptID]
	if !ok {
		return AttemptScore{}, ErrAttemptNotFound
	}
	return sc, nil
}

func (m *memoryStore) UpsertScore(ctx context.Context, sc AttemptScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores[sc.AttemptID] = sc
	return nil
}

func (m *memoryStore) InsertFlag(ctx context.Context, f Flag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags[f.AttemptID] = append(m.flags[f.AttemptID], f)
	return nil
}

func (m *memoryStore) ListFlags(ctx context.Context, attemptID string) ([]Flag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Flag(nil), m.flags[attemptID]...), nil
}

func (m *memoryStore) ListScoredAttempts(ctx context.Context, testID string) ([]ScoredAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ScoredAttempt
	for _, a := range m.attempts {
		if a.TestID != testID || (a.Status != StatusScored && a.Status != StatusFlagged) {
			continue
		}
		sc, ok := m.scores[a.ID]
		if !ok {
			continue
		}
		out = append(out, ScoredAttempt{Attempt: a, Score: sc, Student: m.students[a.StudentID]})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Attempt.StartedAt.Before(out[j].Attempt.StartedAt)
	})
	return out, nil
}

func (m *memoryStore) Stats(ctx context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := Stats{
		TotalAttempts: len(m.attempts),
		TotalStudents: len(m.students),
		TotalTests:    len(m.tests),
	}
	for _, a := range m.attempts {
		switch a.Status {
		case StatusScored:
			st.Scored++
		case StatusDeduped:
			st.Deduped++
		case StatusFlagged:
			st.Flagged++
		}
	}
	st.HasData = st.TotalAttempts > 0
	return st, nil
}

func (m *memoryStore) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students = map[string]Student{}
	m.tests = map[string]Test{}
	m.attempts = map[string]Attempt{}
	m.scores = map[string]AttemptScore{}
	m.flags = map[string][]Flag{}
	return nil
}
