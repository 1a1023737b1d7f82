package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that need to map it to a response.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindUpload       Kind = "upload"
	KindDispatch     Kind = "dispatch"
	KindInternal     Kind = "internal"
)

// Error is the error type shared by every orchestration component.
// StatusCode carries the upstream HTTP status for upload and dispatch errors.
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

func (e *Error) ErrorKind() string {
	return string(e.Kind)
}

var (
	ErrValidation   = &Error{Kind: KindValidation}
	ErrUnauthorized = &Error{Kind: KindUnauthorized}
	ErrForbidden    = &Error{Kind: KindForbidden}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrConflict     = &Error{Kind: KindConflict}
	ErrUpload       = &Error{Kind: KindUpload}
	ErrDispatch     = &Error{Kind: KindDispatch}
	ErrInternal     = &Error{Kind: KindInternal}
)

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validationf(format string, args ...any) error {
	return newError(KindValidation, format, args...)
}

func Unauthorizedf(format string, args ...any) error {
	return newError(KindUnauthorized, format, args...)
}

func Forbiddenf(format string, args ...any) error {
	return newError(KindForbidden, format, args...)
}

func NotFoundf(format string, args ...any) error {
	return newError(KindNotFound, format, args...)
}

func Conflictf(format string, args ...any) error {
	return newError(KindConflict, format, args...)
}

// UploadError reports a blob store rejection with the store's status code.
func UploadError(statusCode int, msg string, err error) error {
	return &Error{Kind: KindUpload, Message: msg, StatusCode: statusCode, Err: err}
}

// DispatchError reports a failed stage invocation. statusCode is zero for
// network failures.
func DispatchError(statusCode int, msg string, err error) error {
	return &Error{Kind: KindDispatch, Message: msg, StatusCode: statusCode, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// StatusCodeOf returns the upstream status code carried by err, if any.
func StatusCodeOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}
