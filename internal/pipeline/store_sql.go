package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// querier is satisfied by both *sql.DB and *sql.Tx, so the same queries run
// inside and outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore implements Store on database/sql. Timestamps persist as Unix
// milliseconds; answer maps, marking schemes, raw payloads, and score
// explanations persist as JSON text.
type SQLStore struct {
	db *sql.DB
	q  querier
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, q: db}
}

// InTx runs fn against a store bound to one transaction. A nested call
// (the querier is already a transaction) reuses the open transaction.
func (s *SQLStore) InTx(ctx context.Context, fn func(Store) error) error {
	if _, ok := s.q.(*sql.Tx); ok {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&SQLStore{db: s.db, q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func milli(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func fromMilli(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64).UTC()
}

const studentCols = `id, full_name, email, phone, normalized_email, normalized_phone, created_at`

func scanStudent(row *sql.Row) (Student, error) {
	var s Student
	var email, phone, nEmail, nPhone sql.NullString
	var created sql.NullInt64
	err := row.Scan(&s.ID, &s.FullName, &email, &phone, &nEmail, &nPhone, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Student{}, ErrStudentNotFound
		}
		return Student{}, err
	}
	s.Email, s.Phone = email.String, phone.String
	s.NormalizedEmail, s.NormalizedPhone = nEmail.String, nPhone.String
	s.CreatedAt = fromMilli(created)
	return s, nil
}

func (s *SQLStore) GetStudent(ctx context.Context, id string) (Student, error) {
	return scanStudent(s.q.QueryRowContext(ctx,
		`SELECT `+studentCols+` FROM students WHERE id=$1`, id))
}

func (s *SQLStore) GetStudentByNormalizedEmail(ctx context.Context, key string) (Student, error) {
	return scanStudent(s.q.QueryRowContext(ctx,
		`SELECT `+studentCols+` FROM students WHERE normalized_email=$1`, key))
}

func (s *SQLStore) GetStudentByNormalizedPhone(ctx context.Context, key string) (Student, error) {
	return scanStudent(s.q.QueryRowContext(ctx,
		`SELECT `+studentCols+` FROM students WHERE normalized_phone=$1`, key))
}

func nullStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func (s *SQLStore) InsertStudent(ctx context.Context, st Student) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO students (id, full_name, email, phone, normalized_email, normalized_phone, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		st.ID, st.FullName, nullStr(st.Email), nullStr(st.Phone),
		nullStr(st.NormalizedEmail), nullStr(st.NormalizedPhone), milli(st.CreatedAt))
	return err
}

func (s *SQLStore) UpdateStudent(ctx context.Context, st Student) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE students SET full_name=$1, email=$2, phone=$3, normalized_email=$4, normalized_phone=$5 WHERE id=$6`,
		st.FullName, nullStr(st.Email), nullStr(st.Phone),
		nullStr(st.NormalizedEmail), nullStr(st.NormalizedPhone), st.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStudentNotFound
	}
	return nil
}

const testCols = `id, name, max_marks, marking_scheme_json, created_at`

func scanTest(row *sql.Row) (Test, error) {
	var t Test
	var schemeJSON string
	var created sql.NullInt64
	err := row.Scan(&t.ID, &t.Name, &t.MaxMarks, &schemeJSON, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Test{}, ErrTestNotFound
		}
		return Test{}, err
	}
	if err := json.Unmarshal([]byte(schemeJSON), &t.MarkingScheme); err != nil {
		return Test{}, fmt.Errorf("decode marking scheme: %w", err)
	}
	t.CreatedAt = fromMilli(created)
	return t, nil
}

func (s *SQLStore) GetTest(ctx context.Context, id string) (Test, error) {
	return scanTest(s.q.QueryRowContext(ctx,
		`SELECT `+testCols+` FROM tests WHERE id=$1`, id))
}

func (s *SQLStore) GetTestByName(ctx context.Context, name string) (Test, error) {
	return scanTest(s.q.QueryRowContext(ctx,
		`SELECT `+testCols+` FROM tests WHERE name=$1`, name))
}

func (s *SQLStore) InsertTest(ctx context.Context, t Test) error {
	scheme, err := json.Marshal(t.MarkingScheme)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO tests (id, name, max_marks, marking_scheme_json, created_at) VALUES ($1,$2,$3,$4,$5)`,
		t.ID, t.Name, t.MaxMarks, string(scheme), milli(t.CreatedAt))
	return err
}

func (s *SQLStore) ListTests(ctx context.Context) ([]Test, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+testCols+` FROM tests ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Test
	for rows.Next() {
		var t Test
		var schemeJSON string
		var created sql.NullInt64
		if err := rows.Scan(&t.ID, &t.Name, &t.MaxMarks, &schemeJSON, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(schemeJSON), &t.MarkingScheme); err != nil {
			return nil, fmt.Errorf("decode marking scheme: %w", err)
		}
		t.CreatedAt = fromMilli(created)
		out = append(out, t)
	}
	return out, rows.Err()
}

const attemptCols = `id, student_id, test_id, source_event_id, started_at, submitted_at, answers_json, raw_payload, status, duplicate_of_attempt_id`

func scanAttempt(scan func(dest ...any) error) (Attempt, error) {
	var a Attempt
	var started, submitted sql.NullInt64
	var answersJSON, rawPayload string
	var dupOf sql.NullString
	err := scan(&a.ID, &a.StudentID, &a.TestID, &a.SourceEventID,
		&started, &submitted, &answersJSON, &rawPayload, &a.Status, &dupOf)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Attempt{}, ErrAttemptNotFound
		}
		return Attempt{}, err
	}
	a.StartedAt = fromMilli(started)
	a.SubmittedAt = fromMilli(submitted)
	if err := json.Unmarshal([]byte(answersJSON), &a.Answers); err != nil {
		a.Answers = AnswerMap{}
	}
	a.RawPayload = []byte(rawPayload)
	a.DuplicateOfID = dupOf.String
	return a, nil
}

func (s *SQLStore) GetAttempt(ctx context.Context, id string) (Attempt, error) {
	return scanAttempt(s.q.QueryRowContext(ctx,
		`SELECT `+attemptCols+` FROM attempts WHERE id=$1`, id).Scan)
}

func (s *SQLStore) GetAttemptBySourceEventID(ctx context.Context, sourceEventID string) (Attempt, error) {
	return scanAttempt(s.q.QueryRowContext(ctx,
		`SELECT `+attemptCols+` FROM attempts WHERE source_event_id=$1`, sourceEventID).Scan)
}

func (s *SQLStore) InsertAttempt(ctx context.Context, a Attempt) error {
	answers, err := json.Marshal(a.Answers)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO attempts (id, student_id, test_id, source_event_id, started_at, submitted_at, answers_json, raw_payload, status, duplicate_of_attempt_id)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		a.ID, a.StudentID, a.TestID, a.SourceEventID,
		milli(a.StartedAt), milli(a.SubmittedAt), string(answers), string(a.RawPayload),
		a.Status, nullStr(a.DuplicateOfID))
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicateSourceEvent
	}
	return err
}

// isUniqueViolation matches the duplicate-key wording of both pgx and
// modernc sqlite; the store has no driver-specific error imports.
func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

func (s *SQLStore) SetAttemptStatus(ctx context.Context, attemptID, status string) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE attempts SET status=$1 WHERE id=$2`, status, attemptID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

func (s *SQLStore) MarkDuplicate(ctx context.Context, attemptID, canonicalID string) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE attempts SET status=$1, duplicate_of_attempt_id=$2 WHERE id=$3`,
		StatusDeduped, canonicalID, attemptID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

func (s *SQLStore) ListAttemptsInWindow(ctx context.Context, studentID, testID string, from, to time.Time) ([]Attempt, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+attemptCols+` FROM attempts
		 WHERE student_id=$1 AND test_id=$2 AND started_at>=$3 AND started_at<=$4 AND status<>$5
		 ORDER BY started_at ASC`,
		studentID, testID, from.UnixMilli(), to.UnixMilli(), StatusDeduped)
	if err != nil {
		return nil, err
	}
	return collectAttempts(rows)
}

func (s *SQLStore) ListDuplicatesOf(ctx context.Context, canonicalID string) ([]Attempt, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+attemptCols+` FROM attempts WHERE duplicate_of_attempt_id=$1 ORDER BY started_at ASC`,
		canonicalID)
	if err != nil {
		return nil, err
	}
	return collectAttempts(rows)
}

func collectAttempts(rows *sql.Rows) ([]Attempt, error) {
	defer rows.Close()
	var out []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) ListAttempts(ctx context.Context, opts AttemptListOpts) ([]AttemptDetail, int, error) {
	where := []string{"1=1"}
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if opts.TestID != "" {
		where = append(where, "a.test_id="+arg(opts.TestID))
	}
	if opts.StudentID != "" {
		where = append(where, "a.student_id="+arg(opts.StudentID))
	}
	if opts.Status != "" {
		where = append(where, "a.status="+arg(opts.Status))
	}
	if opts.HasDuplicates != nil {
		if *opts.HasDuplicates {
			where = append(where, "a.duplicate_of_attempt_id IS NOT NULL")
		} else {
			where = append(where, "a.duplicate_of_attempt_id IS NULL")
		}
	}
	if !opts.DateFrom.IsZero() {
		where = append(where, "a.started_at>="+arg(opts.DateFrom.UnixMilli()))
	}
	if !opts.DateTo.IsZero() {
		where = append(where, "a.started_at<="+arg(opts.DateTo.UnixMilli()))
	}
	if opts.Search != "" {
		pat := "%" + strings.ToLower(opts.Search) + "%"
		where = append(where,
			"(LOWER(s.full_name) LIKE "+arg(pat)+
				" OR LOWER(COALESCE(s.email,'')) LIKE "+arg(pat)+
				" OR LOWER(COALESCE(s.phone,'')) LIKE "+arg(pat)+")")
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attempts a JOIN students s ON s.id=a.student_id WHERE `+cond,
		args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page, size := opts.Page, opts.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	query := `SELECT ` + prefixCols("a", attemptCols) + `, ` + prefixCols("s", studentCols) + `, ` + prefixCols("t", testCols) + `
		FROM attempts a
		JOIN students s ON s.id=a.student_id
		JOIN tests t ON t.id=a.test_id
		WHERE ` + cond + `
		ORDER BY a.started_at DESC
		LIMIT ` + arg(size) + ` OFFSET ` + arg((page-1)*size)

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []AttemptDetail
	for rows.Next() {
		var d AttemptDetail
		var started, submitted, sCreated, tCreated sql.NullInt64
		var answersJSON, rawPayload, schemeJSON string
		var dupOf, email, phone, nEmail, nPhone sql.NullString
		if err := rows.Scan(
			&d.Attempt.ID, &d.Attempt.StudentID, &d.Attempt.TestID, &d.Attempt.SourceEventID,
			&started, &submitted, &answersJSON, &rawPayload, &d.Attempt.Status, &dupOf,
			&d.Student.ID, &d.Student.FullName, &email, &phone, &nEmail, &nPhone, &sCreated,
			&d.Test.ID, &d.Test.Name, &d.Test.MaxMarks, &schemeJSON, &tCreated,
		); err != nil {
			return nil, 0, err
		}
		d.Attempt.StartedAt = fromMilli(started)
		d.Attempt.SubmittedAt = fromMilli(submitted)
		if err := json.Unmarshal([]byte(answersJSON), &d.Attempt.Answers); err != nil {
			d.Attempt.Answers = AnswerMap{}
		}
		d.Attempt.RawPayload = []byte(rawPayload)
		d.Attempt.DuplicateOfID = dupOf.String
		d.Student.Email, d.Student.Phone = email.String, phone.String
		d.Student.NormalizedEmail, d.Student.NormalizedPhone = nEmail.String, nPhone.String
		d.Student.CreatedAt = fromMilli(sCreated)
		if err := json.Unmarshal([]byte(schemeJSON), &d.Test.MarkingScheme); err != nil {
			return nil, 0, fmt.Errorf("decode marking scheme: %w", err)
		}
		d.Test.CreatedAt = fromMilli(tCreated)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for i := range out {
		sc, err := s.GetScore(ctx, out[i].Attempt.ID)
		if err == nil {
			scCopy := sc
			out[i].Score = &scCopy
		} else if !errors.Is(err, ErrAttemptNotFound) {
			return nil, 0, err
		}
		flags, err := s.ListFlags(ctx, out[i].Attempt.ID)
		if err != nil {
			return nil, 0, err
		}
		out[i].Flags = flags
	}
	return out, total, nil
}

func prefixCols(prefix, cols string) string {
	parts := strings.Split(cols, ", ")
	for i, p := range parts {
		parts[i] = prefix + "." + p
	}
	return strings.Join(parts, ", ")
}

func (s *SQLStore) GetScore(ctx context.Context, attemptID string) (AttemptScore, error) {
	var sc AttemptScore
	var computed sql.NullInt64
	var explJSON sql.NullString
	err := s.q.QueryRowContext(ctx,
		`SELECT attempt_id, correct, wrong, skipped, accuracy, net_correct, score, computed_at, explanation_json
		 FROM attempt_scores WHERE attempt_id=$1`, attemptID).
		Scan(&sc.AttemptID, &sc.Correct, &sc.Wrong, &sc.Skipped, &sc.Accuracy,
			&sc.NetCorrect, &sc.Score, &computed, &explJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AttemptScore{}, ErrAttemptNotFound
		}
		return AttemptScore{}, err
	}
	sc.ComputedAt = fromMilli(computed)
	if explJSON.Valid {
		_ = json.Unmarshal([]byte(explJSON.String), &sc.Explanation)
	}
	return sc, nil
}

func (s *SQLStore) UpsertScore(ctx context.Context, sc AttemptScore) error {
	expl, err := json.Marshal(sc.Explanation)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO attempt_scores (attempt_id, correct, wrong, skipped, accuracy, net_correct, score, computed_at, explanation_json)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		 ON CONFLICT (attempt_id) DO UPDATE SET
		   correct=EXCLUDED.correct, wrong=EXCLUDED.wrong, skipped=EXCLUDED.skipped,
		   accuracy=EXCLUDED.accuracy, net_correct=EXCLUDED.net_correct, score=EXCLUDED.score,
		   computed_at=EXCLUDED.computed_at, explanation_json=EXCLUDED.explanation_json`,
		sc.AttemptID, sc.Correct, sc.Wrong, sc.Skipped, sc.Accuracy,
		sc.NetCorrect, sc.Score, milli(sc.ComputedAt), string(expl))
	return err
}

func (s *SQLStore) InsertFlag(ctx context.Context, f Flag) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO flags (id, attempt_id, reason, created_at) VALUES ($1,$2,$3,$4)`,
		f.ID, f.AttemptID, f.Reason, milli(f.CreatedAt))
	return err
}

func (s *SQLStore) ListFlags(ctx context.Context, attemptID string) ([]Flag, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, attempt_id, reason, created_at FROM flags WHERE attempt_id=$1 ORDER BY created_at ASC`,
		attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Flag
	for rows.Next() {
		var f Flag
		var created sql.NullInt64
		if err := rows.Scan(&f.ID, &f.AttemptID, &f.Reason, &created); err != nil {
			return nil, err
		}
		f.CreatedAt = fromMilli(created)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLStore) ListScoredAttempts(ctx context.Context, testID string) ([]ScoredAttempt, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+prefixCols("a", attemptCols)+`,
		        sc.correct, sc.wrong, sc.skipped, sc.accuracy, sc.net_correct, sc.score, sc.computed_at,
		        `+prefixCols("s", studentCols)+`
		 FROM attempts a
		 JOIN attempt_scores sc ON sc.attempt_id=a.id
		 JOIN students s ON s.id=a.student_id
		 WHERE a.test_id=$1 AND a.status IN ($2,$3)
		 ORDER BY a.started_at ASC`,
		testID, StatusScored, StatusFlagged)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScoredAttempt
	for rows.Next() {
		var row ScoredAttempt
		var started, submitted, computed, sCreated sql.NullInt64
		var answersJSON, rawPayload string
		var dupOf, email, phone, nEmail, nPhone sql.NullString
		if err := rows.Scan(
			&row.Attempt.ID, &row.Attempt.StudentID, &row.Attempt.TestID, &row.Attempt.SourceEventID,
			&started, &submitted, &answersJSON, &rawPayload, &row.Attempt.Status, &dupOf,
			&row.Score.Correct, &row.Score.Wrong, &row.Score.Skipped, &row.Score.Accuracy,
			&row.Score.NetCorrect, &row.Score.Score, &computed,
			&row.Student.ID, &row.Student.FullName, &email, &phone, &nEmail, &nPhone, &sCreated,
		); err != nil {
			return nil, err
		}
		row.Attempt.StartedAt = fromMilli(started)
		row.Attempt.SubmittedAt = fromMilli(submitted)
		if err := json.Unmarshal([]byte(answersJSON), &row.Attempt.Answers); err != nil {
			row.Attempt.Answers = AnswerMap{}
		}
		row.Attempt.RawPayload = []byte(rawPayload)
		row.Attempt.DuplicateOfID = dupOf.String
		row.Score.AttemptID = row.Attempt.ID
		row.Score.ComputedAt = fromMilli(computed)
		row.Student.Email, row.Student.Phone = email.String, phone.String
		row.Student.NormalizedEmail, row.Student.NormalizedPhone = nEmail.String, nPhone.String
		row.Student.CreatedAt = fromMilli(sCreated)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *SQLStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	row := s.q.QueryRowContext(ctx, `
		SELECT
		  (SELECT COUNT(*) FROM attempts),
		  (SELECT COUNT(*) FROM students),
		  (SELECT COUNT(*) FROM tests),
		  (SELECT COUNT(*) FROM attempts WHERE status=$1),
		  (SELECT COUNT(*) FROM attempts WHERE status=$2),
		  (SELECT COUNT(*) FROM attempts WHERE status=$3)`,
		StatusScored, StatusDeduped, StatusFlagged)
	if err := row.Scan(&st.TotalAttempts, &st.TotalStudents, &st.TotalTests,
		&st.Scored, &st.Deduped, &st.Flagged); err != nil {
		return Stats{}, err
	}
	st.HasData = st.TotalAttempts > 0
	return st, nil
}

// Reset clears all ingested data, child tables first. The only delete path
// in the system.
func (s *SQLStore) Reset(ctx context.Context) error {
	return s.InTx(ctx, func(tx Store) error {
		q := tx.(*SQLStore).q
		for _, table := range []string{"flags", "attempt_scores", "attempts", "students", "tests"} {
			if _, err := q.ExecContext(ctx, `DELETE FROM `+table); err != nil {
				return fmt.Errorf("reset %s: %w", table, err)
			}
		}
		return nil
	})
}
