// Package surveyerr defines the error taxonomy shared by the instrument
// drivers, the solvers and the survey engine.
package surveyerr

import (
	"errors"
	"fmt"
)

// Code identifies a class of failure.
type Code string

const (
	Connection         Code = "CONNECTION"
	Protocol           Code = "PROTOCOL"
	Timeout            Code = "TIMEOUT"
	Validation         Code = "VALIDATION"
	PrerequisiteNotMet Code = "PREREQUISITE_NOT_MET"
	GeometryCapacity   Code = "GEOMETRY_CAPACITY"
	AmbiguousResection Code = "AMBIGUOUS_RESECTION"
	Busy               Code = "BUSY"
	NotFound           Code = "NOT_FOUND"
	Conflict           Code = "CONFLICT"
	Internal           Code = "INTERNAL"
)

// Error is a structured error carrying a Code and optional details.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewConnection reports that the device link could not be opened or was lost.
func NewConnection(msg string, err error) *Error {
	return &Error{Code: Connection, Message: msg, Err: err}
}

// NewProtocol reports a malformed or unexpected response from the instrument.
func NewProtocol(format string, args ...any) *Error {
	return &Error{Code: Protocol, Message: fmt.Sprintf(format, args...)}
}

// NewTimeout reports that the instrument did not answer in time.
func NewTimeout(op string, err error) *Error {
	return &Error{
		Code:    Timeout,
		Message: fmt.Sprintf("%s timed out", op),
		Details: map[string]any{"operation": op},
		Err:     err,
	}
}

// NewValidation reports bad input. It is always raised before any device I/O.
func NewValidation(format string, args ...any) *Error {
	return &Error{Code: Validation, Message: fmt.Sprintf(format, args...)}
}

// NewPrerequisiteNotMet reports an operation attempted in the wrong phase.
func NewPrerequisiteNotMet(format string, args ...any) *Error {
	return &Error{Code: PrerequisiteNotMet, Message: fmt.Sprintf(format, args...)}
}

// NewGeometryCapacity reports a shot refused because the grouping is full.
func NewGeometryCapacity(groupingID int64, kind string) *Error {
	return &Error{
		Code:    GeometryCapacity,
		Message: fmt.Sprintf("grouping %d (%s) already holds its only shot", groupingID, kind),
		Details: map[string]any{"grouping_id": groupingID, "geometry": kind},
	}
}

// NewAmbiguousResection reports a resection with no unique solution.
func NewAmbiguousResection(format string, args ...any) *Error {
	return &Error{Code: AmbiguousResection, Message: fmt.Sprintf(format, args...)}
}

// NewNotFound reports a missing record.
func NewNotFound(kind string, id any) *Error {
	return &Error{
		Code:    NotFound,
		Message: fmt.Sprintf("%s %v not found", kind, id),
		Details: map[string]any{"kind": kind, "id": id},
	}
}

// NewConflict reports a uniqueness or referential conflict in storage.
func NewConflict(format string, args ...any) *Error {
	return &Error{Code: Conflict, Message: fmt.Sprintf(format, args...)}
}

// NewInternal wraps an unexpected failure.
func NewInternal(err error) *Error {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &Error{Code: Internal, Message: msg, Err: err}
}

// ErrBusy is returned when a measurement is requested while another is
// still outstanding on the same instrument.
var ErrBusy = &Error{Code: Busy, Message: "instrument busy: a measurement is already in progress"}

// Is reports whether err, or anything it wraps, is an *Error with the given code.
func Is(err error, code Code) bool {
	var sErr *Error
	if errors.As(err, &sErr) {
		return sErr.Code == code
	}
	return false
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var sErr *Error
	if errors.As(err, &sErr) {
		return sErr.Code
	}
	return ""
}
