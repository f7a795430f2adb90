// Package rsc holds the oneM2M response status codes (RSC) and the error
// type that carries one alongside a wrapped cause.
package rsc

import "fmt"

// Code is a oneM2M response status code.
type Code int

// Response status codes used by this CSE. Names match the oneM2M
// specification; values are stable because they are wire-visible via
// the X-M2M-RSC header.
const (
	OK                         Code = 2000
	Created                    Code = 2001
	Deleted                    Code = 2002
	Updated                    Code = 2004
	BadRequest                 Code = 4000
	ReleaseVersionNotSupported Code = 4127
	RequestTimeout             Code = 4008
	NotFound                   Code = 4004
	OperationNotAllowed        Code = 4005
	ContentsUnacceptable       Code = 4102
	Conflict                   Code = 4105
	AlreadyExists              Code = 4105
	OriginatorHasNoPrivilege   Code = 4103
	GroupMemberTypeInconsistent Code = 4110
	InsufficientArguments      Code = 4103 // same value as OriginatorHasNoPrivilege
	InternalServerError        Code = 5000
	NotImplemented             Code = 5001
	TargetNotReachable         Code = 5103
	NotAcceptable              Code = 4102
)

// Error pairs a response status code with the underlying cause. Every
// dispatcher-facing error in this module is one of these so the HTTP
// gateway (H) can recover a precise X-M2M-RSC without string matching.
type Error struct {
	Code Code
	Kind string // stable short name, e.g. "badRequest", for logs and tests
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap lets errors.Is/errors.As and github.com/pkg/errors.Cause see
// through to the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with no wrapped cause.
func New(code Code, kind string) *Error {
	return &Error{Code: code, Kind: kind}
}

// Wrap builds an *Error wrapping err. Returns nil if err is nil.
func Wrap(err error, code Code, kind string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Kind: kind, Err: err}
}

// Convenience constructors for the error kinds named in spec §7.
func ErrBadRequest(err error) error { return Wrap(err, BadRequest, "badRequest") }
func ErrNotFound(err error) error   { return Wrap(err, NotFound, "notFound") }
func ErrOperationNotAllowed(err error) error {
	return Wrap(err, OperationNotAllowed, "operationNotAllowed")
}
func ErrContentsUnacceptable(err error) error {
	return Wrap(err, ContentsUnacceptable, "contentsUnacceptable")
}
func ErrConflict(err error) error { return Wrap(err, Conflict, "conflict") }
func ErrNoPrivilege(err error) error {
	return Wrap(err, OriginatorHasNoPrivilege, "originatorHasNoPrivilege")
}
func ErrInsufficientArguments(err error) error {
	return Wrap(err, InsufficientArguments, "insufficientArguments")
}
func ErrInternal(err error) error { return Wrap(err, InternalServerError, "internalServerError") }
func ErrNotImplemented(err error) error {
	return Wrap(err, NotImplemented, "notImplemented")
}
func ErrTargetNotReachable(err error) error {
	return Wrap(err, TargetNotReachable, "targetNotReachable")
}
func ErrRequestTimeout(err error) error { return Wrap(err, RequestTimeout, "requestTimeout") }
func ErrReleaseVersionNotSupported(err error) error {
	return Wrap(err, ReleaseVersionNotSupported, "releaseVersionNotSupported")
}
func ErrGroupMemberTypeInconsistent(err error) error {
	return Wrap(err, GroupMemberTypeInconsistent, "groupMemberTypeInconsistent")
}

// CodeOf extracts the Code from err, defaulting to InternalServerError
// if err is not (or does not wrap) an *Error.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var rerr *Error
	for {
		if e, ok := err.(*Error); ok { //nolint:errorlint // deliberate shallow unwrap loop
			rerr = e
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
		if err == nil {
			break
		}
	}
	if rerr == nil {
		return InternalServerError
	}
	return rerr.Code
}
