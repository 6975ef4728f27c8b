// Package gateerr defines the failure taxonomy for exitgate itself.
//
// Test mismatches are not errors: they are recorded in the tally and the
// report. Every error that aborts a run maps to exactly one FailureClass,
// which determines the harness exit code.
package gateerr

import (
	"errors"
	"fmt"
)

// FailureClass is a stable category of harness failure.
type FailureClass string

const (
	CLIUsage         FailureClass = "CLI_USAGE"
	InvalidConfig    FailureClass = "INVALID_CONFIG"
	UnmappedCategory FailureClass = "UNMAPPED_CATEGORY"
	EvidenceInvalid  FailureClass = "EVIDENCE_INVALID"
	CorpusIO         FailureClass = "CORPUS_IO"
	LaunchFailed     FailureClass = "LAUNCH_FAILED"
	Interrupted      FailureClass = "INTERRUPTED"
	InternalIO       FailureClass = "INTERNAL_IO"
	InternalError    FailureClass = "INTERNAL_ERROR"
)

// ExitCode returns the process exit code for this failure class.
func (fc FailureClass) ExitCode() int {
	switch fc {
	case CLIUsage, InvalidConfig, UnmappedCategory, EvidenceInvalid:
		return 2
	case Interrupted:
		return 130
	default:
		return 10
	}
}

// Error is the structured error type for all harness failures.
type Error struct {
	Class   FailureClass
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given class and message.
func New(class FailureClass, message string) *Error {
	return &Error{Class: class, Message: message}
}

// Newf creates a new Error with a formatted message.
func Newf(class FailureClass, format string, args ...any) *Error {
	return &Error{Class: class, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(class FailureClass, message string, cause error) *Error {
	return &Error{Class: class, Message: message, Cause: cause}
}

// ClassOf reports the class of the first *Error in err's chain.
// Unclassified errors are InternalError.
func ClassOf(err error) FailureClass {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return InternalError
}
