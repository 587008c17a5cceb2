// Package errs defines the exhaustive error kinds surfaced by shardrelay's
// routing, transaction, and context machinery. Every error the library
// returns across shard boundaries is a *Error so callers can dispatch on
// Kind with errors.As instead of string-matching messages.
package errs

import (
	"errors"
	"fmt"
)

// Kind enumerates the error categories a shardrelay operation can fail with.
type Kind int

const (
	// KindNotFound means an identified row does not exist where the
	// operation requires it (e.g. a LockedContext built with a getter that
	// returned nil).
	KindNotFound Kind = iota
	// KindNonUnique means a unique-result fetch matched more than one row.
	KindNonUnique
	// KindLockConflict means a WRITE_NOWAIT lock could not be acquired.
	KindLockConflict
	// KindConstraintViolation means a LockedContext filter predicate
	// rejected the parent row.
	KindConstraintViolation
	// KindOperationFailed wraps an underlying persistence-engine error
	// raised from within an OperationContext.
	KindOperationFailed
	// KindSpecError means a declarative input was malformed: an
	// AssociationSpec missing a parent field, a mismatched ScrollPointer
	// direction, a nil entity generator, invalid pagination bounds, or a
	// non-string lookup-key field.
	KindSpecError
	// KindInvalidArgument means a caller-supplied input was malformed: a
	// nil callback, a nil key, a negative page size, an empty shard fleet.
	KindInvalidArgument
)

// String renders the Kind the way it appears in log fields and error text.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindNonUnique:
		return "non_unique"
	case KindLockConflict:
		return "lock_conflict"
	case KindConstraintViolation:
		return "constraint_violation"
	case KindOperationFailed:
		return "operation_failed"
	case KindSpecError:
		return "spec_error"
	case KindInvalidArgument:
		return "invalid_argument"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned by every shardrelay package.
// It carries a Kind for programmatic dispatch, a human-readable message, and
// the optional underlying cause (wrapped so errors.Is/errors.As see through
// it, the same %w convention the teacher uses throughout db/postgres_pgx.go
// and db/state_store.go).
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind around an underlying cause. A nil
// cause yields a nil *Error so call sites can write `return errs.Wrap(...)`
// unconditionally after an `if err != nil` guard without double-wrapping nils.
func Wrap(kind Kind, message string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is a *Error of the given kind, unwrapping through
// any number of intermediate wrappers.
func Is(err error, kind Kind) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

func NotFound(message string) *Error             { return New(KindNotFound, message) }
func NonUnique(message string) *Error            { return New(KindNonUnique, message) }
func LockConflict(message string) *Error         { return New(KindLockConflict, message) }
func ConstraintViolation(cause error) *Error {
	return &Error{Kind: KindConstraintViolation, Message: "parent filter rejected", Cause: cause}
}
func OperationFailed(message string, cause error) *Error {
	return Wrap(KindOperationFailed, message, cause)
}
func SpecError(message string) *Error       { return New(KindSpecError, message) }
func InvalidArgument(message string) *Error { return New(KindInvalidArgument, message) }
