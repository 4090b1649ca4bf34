// Package errs implements the frozen two-axis error taxonomy: structural
// errors (ill-formed input) and temporal errors (valid input that lost a
// race), plus the handful of errors that fit neither axis. Every error is a
// concrete type with a Code and structured Details, wrapped with
// github.com/cockroachdb/errors so a cause can travel through every layer
// without losing its code, message, or details — no layer is permitted to
// erase them by converting to a plain string or a different code.
package errs

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Code is one of the stable, frozen taxonomy members.
type Code string

const (
	CodeNotFound            Code = "NotFound"
	CodeWrongType           Code = "WrongType"
	CodeInvalidKey          Code = "InvalidKey"
	CodeInvalidPath         Code = "InvalidPath"
	CodeHistoryTrimmed      Code = "HistoryTrimmed"
	CodeConstraintViolation Code = "ConstraintViolation"
	CodeConflict            Code = "Conflict"
	CodeRunNotFound         Code = "RunNotFound"
	CodeRunClosed           Code = "RunClosed"
	CodeRunExists           Code = "RunExists"
	CodeOverflow            Code = "Overflow"
	CodeInternal            Code = "Internal"
)

// StrataError is the concrete shape every taxonomy member implements:
// {code, message, details}, matching §6.2's produced-error contract.
type StrataError struct {
	code    Code
	message string
	details any
	cause   error
}

func (e *StrataError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *StrataError) Unwrap() error { return e.cause }
func (e *StrataError) Code() Code    { return e.code }
func (e *StrataError) Details() any  { return e.details }

func newErr(code Code, message string, details any) *StrataError {
	return &StrataError{code: code, message: message, details: details}
}

// CodeOf extracts the Code from err by walking its error chain, returning
// ("", false) if no StrataError is found anywhere in the chain.
func CodeOf(err error) (Code, bool) {
	var se *StrataError
	if errors.As(err, &se) {
		return se.code, true
	}
	return "", false
}

// Is reports whether err's chain contains a StrataError with the given code.
func Is(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

// Wrap attaches msg as context to err without erasing its code, message, or
// details — the only propagation policy the taxonomy permits across layers.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, msg)
}

func NotFound(what string) error {
	return newErr(CodeNotFound, what, nil)
}

func WrongType(expected, actual string) error {
	return newErr(CodeWrongType, fmt.Sprintf("expected %s, got %s", expected, actual), WrongTypeDetails{Expected: expected, Actual: actual})
}

type WrongTypeDetails struct {
	Expected string
	Actual   string
}

func InvalidKey(reason string) error {
	return newErr(CodeInvalidKey, reason, nil)
}

func InvalidPath(path string) error {
	return newErr(CodeInvalidPath, fmt.Sprintf("invalid path %q", path), path)
}

// HistoryTrimmedDetails is the structured payload for a HistoryTrimmed
// error: the version the caller asked for, and the oldest version still
// retained.
type HistoryTrimmedDetails struct {
	Requested      uint64
	EarliestRetained uint64
}

func HistoryTrimmed(requested, earliestRetained uint64) error {
	return newErr(CodeHistoryTrimmed,
		fmt.Sprintf("requested version %d is older than retention floor %d", requested, earliestRetained),
		HistoryTrimmedDetails{Requested: requested, EarliestRetained: earliestRetained})
}

// ConstraintViolationDetails names the specific reason a structural limit
// was tripped, matching the reason vocabulary in §7.
type ConstraintViolationDetails struct {
	Reason string
}

func ConstraintViolation(reason string) error {
	return newErr(CodeConstraintViolation, reason, ConstraintViolationDetails{Reason: reason})
}

// ConflictDetails carries the value a caller expected to be racing against
// and the value actually present when validation ran.
type ConflictDetails struct {
	Expected any
	Actual   any
}

func Conflict(expected, actual any) error {
	return newErr(CodeConflict, "concurrent write lost the race", ConflictDetails{Expected: expected, Actual: actual})
}

func RunNotFound(run string) error {
	return newErr(CodeRunNotFound, fmt.Sprintf("run %q not found", run), run)
}

func RunClosed(run string) error {
	return newErr(CodeRunClosed, fmt.Sprintf("run %q is closed", run), run)
}

func RunExists(run string) error {
	return newErr(CodeRunExists, fmt.Sprintf("run %q already exists", run), run)
}

func Overflow(op string) error {
	return newErr(CodeOverflow, fmt.Sprintf("%s overflowed", op), op)
}

func Internal(cause error) error {
	return &StrataError{code: CodeInternal, message: "internal error", cause: cause}
}
