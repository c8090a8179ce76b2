// Package errors defines stable error codes for all fieldmv failure modes.
package errors

import (
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// ParseFailure indicates a source file could not be parsed
	ParseFailure ErrorCode = "PARSE_FAILURE"
	// NotFoundAtSnapshot indicates a file does not exist at the requested snapshot
	NotFoundAtSnapshot ErrorCode = "NOT_FOUND_AT_SNAPSHOT"
	// AmbiguousMatch indicates a vanished member had multiple equally-scored candidates
	AmbiguousMatch ErrorCode = "AMBIGUOUS_MATCH"
	// RecordTableMalformed indicates the change-record table failed to load
	RecordTableMalformed ErrorCode = "RECORD_TABLE_MALFORMED"
	// SourceRootInaccessible indicates the source-tree root cannot be read
	SourceRootInaccessible ErrorCode = "SOURCE_ROOT_INACCESSIBLE"
	// EditFailed indicates an edit could not be located or applied in a file
	EditFailed ErrorCode = "EDIT_FAILED"
	// ValidationFailed indicates a file was no longer well-formed after an edit
	ValidationFailed ErrorCode = "VALIDATION_FAILED"
	// RollbackFailed indicates the pre-edit backup that guarantees a file
	// can be restored could not be secured or verified. The file is never
	// edited in that state; the condition must be surfaced loudly to the
	// operator.
	RollbackFailed ErrorCode = "ROLLBACK_FAILED"
	// InheritCycle indicates a cycle in the inheritance graph
	InheritCycle ErrorCode = "INHERIT_CYCLE"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// FmvError represents a fieldmv error with a stable code and optional cause
type FmvError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	cause   error       // Underlying error (not exported to JSON)
}

// New creates a new FmvError
func New(code ErrorCode, message string, cause error) *FmvError {
	return &FmvError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Error implements the error interface
func (e *FmvError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *FmvError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *FmvError) WithDetails(details interface{}) *FmvError {
	e.Details = details
	return e
}

// CodeOf returns the ErrorCode of err if it is an FmvError, or InternalError.
func CodeOf(err error) ErrorCode {
	if fe, ok := err.(*FmvError); ok {
		return fe.Code
	}
	return InternalError
}

// Is reports whether err carries the given code
func Is(err error, code ErrorCode) bool {
	fe, ok := err.(*FmvError)
	return ok && fe.Code == code
}
