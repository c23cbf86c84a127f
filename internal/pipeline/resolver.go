package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/assessops/platform/internal/identity"
	"github.com/assessops/platform/internal/logx"
)

// StudentResolver finds the student a raw identity belongs to, or creates
// one. Matching prefers normalized email over normalized phone (the
// stronger identity signal).
type StudentResolver struct {
	store Store
}

func NewStudentResolver(store Store) *StudentResolver {
	return &StudentResolver{store: store}
}

// Resolve returns the matched or newly created student. On a match the
// record is upgraded in place: the name is replaced only when the incoming
// normalized name is strictly longer, and empty contact fields are
// backfilled; populated fields are never overwritten. A brand-new student
// with neither identity key fails with ErrIdentityMissing.
func (r *StudentResolver) Resolve(ctx context.Context, in EventStudent) (Student, error) {
	normEmail := identity.NormalizeEmail(in.Email)
	normPhone := identity.NormalizePhone(in.Phone)

	found, ok, err := r.lookup(ctx, normEmail, normPhone)
	if err != nil {
		return Student{}, err
	}
	if ok {
		return r.merge(ctx, found, in, normEmail, normPhone)
	}

	if normEmail == "" && normPhone == "" {
		return Student{}, ErrIdentityMissing
	}

	s := Student{
		ID:              uuid.NewString(),
		FullName:        identity.NormalizeName(in.FullName),
		Email:           strings.TrimSpace(in.Email),
		Phone:           strings.TrimSpace(in.Phone),
		NormalizedEmail: normEmail,
		NormalizedPhone: normPhone,
		CreatedAt:       time.Now().UTC(),
	}
	if err := r.store.InsertStudent(ctx, s); err != nil {
		return Student{}, fmt.Errorf("insert student: %w", err)
	}
	logx.FromContext(ctx).Info("student created", "student_id", s.ID, "full_name", s.FullName)
	return s, nil
}

func (r *StudentResolver) lookup(ctx context.Context, normEmail, normPhone string) (Student, bool, error) {
	if normEmail != "" {
		s, err := r.store.GetStudentByNormalizedEmail(ctx, normEmail)
		if err == nil {
			return s, true, nil
		}
		if !errors.Is(err, ErrStudentNotFound) {
			return Student{}, false, fmt.Errorf("lookup student by email: %w", err)
		}
	}
	if normPhone != "" {
		s, err := r.store.GetStudentByNormalizedPhone(ctx, normPhone)
		if err == nil {
			return s, true, nil
		}
		if !errors.Is(err, ErrStudentNotFound) {
			return Student{}, false, fmt.Errorf("lookup student by phone: %w", err)
		}
	}
	return Student{}, false, nil
}

func (r *StudentResolver) merge(ctx context.Context, s Student, in EventStudent, normEmail, normPhone string) (Student, error) {
	changed := false

	newName := identity.NormalizeName(in.FullName)
	if utf8.RuneCountInString(newName) > utf8.RuneCountInString(s.FullName) {
		s.FullName = newName
		changed = true
	}
	if s.Email == "" && strings.TrimSpace(in.Email) != "" {
		s.Email = strings.TrimSpace(in.Email)
		changed = true
	}
	if s.Phone == "" && strings.TrimSpace(in.Phone) != "" {
		s.Phone = strings.TrimSpace(in.Phone)
		changed = true
	}
	if s.NormalizedEmail == "" && normEmail != "" {
		s.NormalizedEmail = normEmail
		changed = true
	}
	if s.NormalizedPhone == "" && normPhone != "" {
		s.NormalizedPhone = normPhone
		changed = true
	}

	if changed {
		if err := r.store.UpdateStudent(ctx, s); err != nil {
			return Student{}, fmt.Errorf("update student: %w", err)
		}
	}
	logx.FromContext(ctx).Debug("student matched", "student_id", s.ID)
	return s, nil
}

// TestResolver finds-or-creates a test definition by exact name. A test is
// fixed by whoever names it first; there is no merge or update path.
type TestResolver struct {
	store Store
}

func NewTestResolver(store Store) *TestResolver {
	return &TestResolver{store: store}
}

func (r *TestResolver) Resolve(ctx context.Context, in EventTest) (Test, error) {
	t, err := r.store.GetTestByName(ctx, in.Name)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, ErrTestNotFound) {
		return Test{}, fmt.Errorf("lookup test: %w", err)
	}

	t = Test{
		ID:            uuid.NewString(),
		Name:          in.Name,
		MaxMarks:      in.MaxMarks,
		MarkingScheme: in.MarkingScheme,
		CreatedAt:     time.Now().UTC(),
	}
	if err := r.store.InsertTest(ctx, t); err != nil {
		return Test{}, fmt.Errorf("insert test: %w", err)
	}
	logx.FromContext(ctx).Info("test created", "test_id", t.ID, "name", t.Name)
	return t, nil
}
