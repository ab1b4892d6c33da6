// Package dserr defines the error kinds surfaced by every dataserve operation.
//
// Errors are built on go-errors so that each one carries a category and a stable
// text code. Callers should branch on the code via KindOf or Is instead of
// matching messages.
package dserr

import (
	"errors"
	"sort"

	goerrors "github.com/goliatone/go-errors"
)

// Kind is the stable text code attached to an error.
type Kind string

const (
	InvalidCommand            Kind = "INVALID_COMMAND"
	InvalidInput              Kind = "INVALID_INPUT"
	MissingPrimaryKey         Kind = "MISSING_PRIMARY_KEY"
	MissingFields             Kind = "MISSING_FIELDS"
	ValidationFailed          Kind = "VALIDATION_FAILED"
	LockTimeout               Kind = "LOCK_TIMEOUT"
	LockFailure               Kind = "LOCK_FAILURE"
	QueryExecutionError       Kind = "QUERY_EXECUTION_ERROR"
	CacheUnsupportedOperation Kind = "CACHE_UNSUPPORTED_OPERATION"
	CacheFailure              Kind = "CACHE_FAILURE"
)

func category(kind Kind) goerrors.Category {
	switch kind {
	case InvalidCommand, InvalidInput, MissingPrimaryKey, MissingFields:
		return goerrors.CategoryBadInput
	case ValidationFailed:
		return goerrors.CategoryValidation
	case QueryExecutionError, CacheFailure:
		return goerrors.CategoryExternal
	default:
		return goerrors.CategoryInternal
	}
}

// New creates an error of the given kind.
func New(kind Kind, message string) error {
	return goerrors.New(message, category(kind)).WithTextCode(string(kind))
}

// Wrap attaches a kind to a collaborator error (driver, cache, lock manager).
func Wrap(err error, kind Kind, message string) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, category(kind), message).WithTextCode(string(kind))
}

// Validation builds a ValidationFailed error carrying one reason per field.
func Validation(message string, reasons map[string]string) error {
	fields := make([]string, 0, len(reasons))
	for field := range reasons {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	fieldErrors := make([]goerrors.FieldError, 0, len(fields))
	for _, field := range fields {
		fieldErrors = append(fieldErrors, goerrors.FieldError{Field: field, Message: reasons[field]})
	}
	return goerrors.NewValidation(message, fieldErrors...).WithTextCode(string(ValidationFailed))
}

// KindOf returns the kind attached to err, or "" when err was not built by this package.
func KindOf(err error) Kind {
	var e *goerrors.Error
	if errors.As(err, &e) {
		return Kind(e.TextCode)
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Reasons returns the per-field reasons of a ValidationFailed error.
func Reasons(err error) map[string]string {
	var e *goerrors.Error
	if !errors.As(err, &e) || len(e.ValidationErrors) == 0 {
		return nil
	}
	out := make(map[string]string, len(e.ValidationErrors))
	for _, fe := range e.ValidationErrors {
		out[fe.Field] = fe.Message
	}
	return out
}
