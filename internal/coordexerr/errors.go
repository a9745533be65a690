// Package coordexerr defines the typed error kinds shared across every
// coordinator component, so callers can branch on Kind instead of matching
// error strings.
package coordexerr

import "fmt"

// Kind enumerates the machine-readable error categories the core returns.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindConflict        Kind = "conflict"
	KindNotFound        Kind = "not_found"
	KindAuth            Kind = "auth"
	KindQuota           Kind = "quota"
	KindNetwork         Kind = "network"
	KindBudgetExceeded  Kind = "budget_exceeded"
	KindTimeout         Kind = "timeout"
	KindResolution      Kind = "resolution"
	KindMigration       Kind = "migration"
	KindInternal        Kind = "internal"
)

// Error is the concrete error type every component returns for
// classifiable failures. Fields beyond Kind/Message are populated only
// when the kind calls for them (e.g. Conflict for KindConflict).
type Error struct {
	Kind    Kind
	Message string

	// Conflict carries the id of the pre-existing claim that blocked an
	// acquire/escalate, set only for KindConflict.
	ConflictID string

	// Cost/Limit carry the current spend and configured ceiling, set
	// only for KindBudgetExceeded.
	Cost  float64
	Limit float64

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Validation builds a KindValidation error.
func Validation(format string, args ...any) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

// NotFound builds a KindNotFound error.
func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

// Conflict builds a KindConflict error naming the blocking claim.
func Conflict(conflictID, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...), ConflictID: conflictID}
}

// BudgetExceeded builds a KindBudgetExceeded error carrying cost and limit.
func BudgetExceeded(cost, limit float64) *Error {
	return &Error{
		Kind:    KindBudgetExceeded,
		Message: fmt.Sprintf("cost %.4f exceeds limit %.4f", cost, limit),
		Cost:    cost,
		Limit:   limit,
	}
}

// Internal builds a KindInternal error wrapping an unexpected failure.
func Internal(message string, err error) *Error {
	return Wrap(KindInternal, message, err)
}
