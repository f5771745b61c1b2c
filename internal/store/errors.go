// ABOUTME: Storage error taxonomy shared by every store operation
// ABOUTME: Each error carries a kind, a stage tag and the wrapped driver or OS error

package store

import (
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Common errors, matched with errors.Is against any *Error of the same kind.
var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidID          = errors.New("invalid id")
	ErrInvariantViolation = errors.New("invariant violation")
	ErrClosed             = errors.New("store closed")
)

// ErrorKind is the closed set of storage failure kinds.
type ErrorKind int

const (
	KindNotFound ErrorKind = iota + 1
	KindConflict
	KindInvalidID
	KindInvariantViolation
	KindCreateDirectory
	KindConnect
	KindPragma
	KindMigrate
	KindQuery
	KindWorker
	KindReadLegacySource
)

var kindNames = map[ErrorKind]string{
	KindNotFound:           "not found",
	KindConflict:           "conflict",
	KindInvalidID:          "invalid id",
	KindInvariantViolation: "invariant violation",
	KindCreateDirectory:    "create directory",
	KindConnect:            "connect",
	KindPragma:             "pragma",
	KindMigrate:            "migrate",
	KindQuery:              "query",
	KindWorker:             "worker",
	KindReadLegacySource:   "read legacy source",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is returned by every store operation that fails.
type Error struct {
	Kind  ErrorKind
	Stage string

	// NotFound and Conflict
	Entity string
	ID     string

	// InvalidID
	IDType string
	Raw    string

	// Conflict and InvariantViolation
	Details string

	// Underlying driver, OS or parse error, if any.
	Err error
}

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case KindNotFound:
		msg = fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
	case KindConflict:
		msg = fmt.Sprintf("%s conflict: %s", e.Entity, e.Details)
	case KindInvalidID:
		msg = fmt.Sprintf("invalid %s %q", e.IDType, e.Raw)
	case KindInvariantViolation:
		msg = "invariant violation: " + e.Details
	default:
		msg = e.Kind.String() + " failed"
		if e.Details != "" {
			msg += ": " + e.Details
		}
	}
	if e.Stage != "" {
		msg = e.Stage + ": " + msg
	}
	if e.Err != nil && e.Kind != KindInvalidID {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets callers match an *Error by kind using the package sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrConflict:
		return e.Kind == KindConflict
	case ErrInvalidID:
		return e.Kind == KindInvalidID
	case ErrInvariantViolation:
		return e.Kind == KindInvariantViolation
	}
	return false
}

// KindOf reports the kind of a store error, or 0 if err is not one.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}

func notFound(stage, entity, id string) *Error {
	return &Error{Kind: KindNotFound, Stage: stage, Entity: entity, ID: id}
}

func conflict(stage, entity, details string) *Error {
	return &Error{Kind: KindConflict, Stage: stage, Entity: entity, Details: details}
}

func invariant(stage, details string) *Error {
	return &Error{Kind: KindInvariantViolation, Stage: stage, Details: details}
}

// queryErr wraps a driver error. Store errors pass through untouched so
// nested helpers keep their original stage.
func queryErr(stage string, err error) error {
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Kind: KindQuery, Stage: stage, Err: err}
}

// IsForeignKeyViolation reports whether err came from a failed FOREIGN KEY
// constraint.
func IsForeignKeyViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
}

// IsConstraintViolation reports whether err came from any failed constraint.
func IsConstraintViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}
