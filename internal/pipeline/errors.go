package pipeline

import "errors"

// Sentinel errors for the pipeline's failure taxonomy. Store
// implementations translate their own not-found conditions (e.g.
// sql.ErrNoRows) into these so callers can match with errors.Is.
var (
	// ErrIdentityMissing: a brand-new student has neither a normalized
	// email nor a normalized phone. Validation class; skips the event.
	ErrIdentityMissing = errors.New("student must have at least an email or phone")

	ErrStudentNotFound = errors.New("student not found")
	ErrTestNotFound    = errors.New("test not found")
	ErrAttemptNotFound = errors.New("attempt not found")

	// ErrDuplicateSourceEvent: the source_event_id has already been
	// ingested. Conflict class; treated as a success no-op.
	ErrDuplicateSourceEvent = errors.New("source event already ingested")

	// ErrAttemptDeduped: the operation is not valid on a DEDUPED attempt.
	// DEDUPED is terminal; a deduped attempt is never independently scored.
	ErrAttemptDeduped = errors.New("attempt is marked as duplicate")
)
