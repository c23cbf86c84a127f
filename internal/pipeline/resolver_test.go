package pipeline

import (
	"context"
	"errors"
	"testing"
)

func TestStudentResolverCreates(t *testing.T) {
	ctx := context.Background()
	r := NewStudentResolver(NewMemoryStore())

	s, err := r.Resolve(ctx, EventStudent{
		FullName: "jane   doe",
		Email:    "Jane.Doe+quiz@gmail.com",
		Phone:    "+91 98765-43210",
	})
	if err != nil {
		t.Fatal(err)
	}
	if s.FullName != "Jane Doe" {
		t.Errorf("name = %q, want normalized", s.FullName)
	}
	if s.NormalizedEmail != "janedoe@gmail.com" {
		t.Errorf("normalized email = %q", s.NormalizedEmail)
	}
	if s.NormalizedPhone != "9876543210" {
		t.Errorf("normalized phone = %q", s.NormalizedPhone)
	}
	if s.Email != "Jane.Doe+quiz@gmail.com" {
		t.Errorf("raw email = %q, original form should be kept", s.Email)
	}
}

func TestStudentResolverMatchesByEmailVariant(t *testing.T) {
	ctx := context.Background()
	r := NewStudentResolver(NewMemoryStore())

	first, err := r.Resolve(ctx, EventStudent{FullName: "Jane Doe", Email: "jane.doe@gmail.com"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Resolve(ctx, EventStudent{FullName: "Jane", Email: "JaneDoe+alt@gmail.com"})
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Error("gmail variants should resolve to one student")
	}
	if second.FullName != "Jane Doe" {
		t.Errorf("name = %q, the shorter incoming name must not replace the longer one", second.FullName)
	}
}

func TestStudentResolverEmailWinsOverPhone(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	r := NewStudentResolver(store)

	byEmail, err := r.Resolve(ctx, EventStudent{FullName: "Jane Doe", Email: "jane@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	byPhone, err := r.Resolve(ctx, EventStudent{FullName: "Someone Else", Phone: "9876543210"})
	if err != nil {
		t.Fatal(err)
	}
	if byEmail.ID == byPhone.ID {
		t.Fatal("setup: distinct students expected")
	}

	// Email and phone each match a different record: email is the stronger
	// signal and decides.
	got, err := r.Resolve(ctx, EventStudent{Email: "jane@example.com", Phone: "9876543210"})
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != byEmail.ID {
		t.Errorf("resolved to %s, want the email match %s", got.ID, byEmail.ID)
	}
}

func TestStudentResolverBackfillsContacts(t *testing.T) {
	ctx := context.Background()
	r := NewStudentResolver(NewMemoryStore())

	first, err := r.Resolve(ctx, EventStudent{FullName: "Jane Doe", Email: "jane@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if first.Phone != "" {
		t.Fatal("setup: no phone yet")
	}

	merged, err := r.Resolve(ctx, EventStudent{Email: "jane@example.com", Phone: "+91 98765 43210"})
	if err != nil {
		t.Fatal(err)
	}
	if merged.ID != first.ID {
		t.Fatal("expected the same student")
	}
	if merged.NormalizedPhone != "9876543210" {
		t.Errorf("phone not backfilled: %q", merged.NormalizedPhone)
	}

	// An already populated email is never overwritten by a later variant.
	again, err := r.Resolve(ctx, EventStudent{Email: "JANE@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if again.Email != "jane@example.com" {
		t.Errorf("raw email = %q, want the first-seen form kept", again.Email)
	}
}

func TestStudentResolverMissingIdentity(t *testing.T) {
	r := NewStudentResolver(NewMemoryStore())
	_, err := r.Resolve(context.Background(), EventStudent{FullName: "Jane Doe"})
	if !errors.Is(err, ErrIdentityMissing) {
		t.Errorf("err = %v, want ErrIdentityMissing", err)
	}
}

func TestTestResolverFindOrCreate(t *testing.T) {
	ctx := context.Background()
	r := NewTestResolver(NewMemoryStore())

	created, err := r.Resolve(ctx, EventTest{
		Name: "Mock GK Round 1", MaxMarks: 100,
		MarkingScheme: MarkingScheme{"correct": 4, "wrong": -1},
	})
	if err != nil {
		t.Fatal(err)
	}

	// A later event with a different scheme does not alter the test.
	found, err := r.Resolve(ctx, EventTest{
		Name: "Mock GK Round 1", MaxMarks: 300,
		MarkingScheme: MarkingScheme{"correct": 10},
	})
	if err != nil {
		t.Fatal(err)
	}
	if found.ID != created.ID {
		t.Error("same name should resolve to the existing test")
	}
	if found.MaxMarks != 100 {
		t.Errorf("max marks = %d, the first definition is fixed", found.MaxMarks)
	}
}
