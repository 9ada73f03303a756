package meta

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Kind classifies a failure so callers can map it to the right response
// without parsing message text.
type Kind int

const (
	// KindValidation marks caller-correctable bad input.
	KindValidation Kind = iota + 1
	// KindPermission marks a failed authorization predicate.
	KindPermission
	// KindPrecondition marks an operation that is illegal in the current
	// workspace state.
	KindPrecondition
	// KindNotFound marks an unknown file, workspace, or family.
	KindNotFound
	// KindConflict marks a commit rejected because of concurrent changes.
	KindConflict
	// KindBackend marks a storage or database failure.
	KindBackend
)

// A Conflict names one file+family pair that was changed upstream since the
// workspace's snapshot.
type Conflict struct {
	FileID uuid.UUID `json:"file_id"`
	Family string    `json:"family"`
}

// Error is the failure type returned by the registry. Conflicts is set only
// for KindConflict and then carries the full conflicting set.
type Error struct {
	Kind      Kind
	Detail    string
	Conflicts []Conflict
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Detail + ": " + e.Err.Error()
	}
	return e.Detail
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validationf returns a KindValidation error.
func Validationf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Detail: fmt.Sprintf(format, args...)}
}

// Permissionf returns a KindPermission error.
func Permissionf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindPermission, Detail: fmt.Sprintf(format, args...)}
}

// Preconditionf returns a KindPrecondition error.
func Preconditionf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindPrecondition, Detail: fmt.Sprintf(format, args...)}
}

// NotFoundf returns a KindNotFound error.
func NotFoundf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Detail: fmt.Sprintf(format, args...)}
}

// Conflictf returns a KindConflict error carrying the conflicting set.
func Conflictf(conflicts []Conflict) *Error {
	return &Error{
		Kind:      KindConflict,
		Detail:    fmt.Sprintf("commit conflicts with %d concurrent changes", len(conflicts)),
		Conflicts: conflicts,
	}
}

// Backendf returns a KindBackend error wrapping err.
func Backendf(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindBackend, Detail: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of err, or 0 if err is not an Error from this
// package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsNotFound reports whether err is a KindNotFound error.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsConflict reports whether err is a KindConflict error.
func IsConflict(err error) bool {
	return KindOf(err) == KindConflict
}

// ConflictsOf returns the conflicting set carried by a KindConflict error,
// or nil.
func ConflictsOf(err error) []Conflict {
	var e *Error
	if errors.As(err, &e) {
		return e.Conflicts
	}
	return nil
}
