package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can map them to workflow
// transitions and transport status codes without inspecting messages.
type ErrorKind string

const (
	KindValidation ErrorKind = "ValidationError"
	KindUpstream   ErrorKind = "UpstreamError"
	KindNotFound   ErrorKind = "NotFoundError"
	KindInternal   ErrorKind = "InternalError"
)

// Error is a classified error. Msg describes the failed operation and Err,
// when set, is the underlying cause.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return e.Msg
	case e.Msg == "":
		return e.Err.Error()
	default:
		return e.Msg + ": " + e.Err.Error()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Validationf returns a validation error for malformed or missing caller input.
func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// NotFoundf returns an error for an unknown resource.
func NotFoundf(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// Upstream wraps a failure of the source-control or inference provider.
// An err that is already classified keeps its kind.
func Upstream(msg string, err error) error {
	return classify(KindUpstream, msg, err)
}

// Internal wraps an unexpected failure.
func Internal(msg string, err error) error {
	return classify(KindInternal, msg, err)
}

func classify(kind ErrorKind, msg string, err error) error {
	var classified *Error
	if errors.As(err, &classified) {
		return &Error{Kind: classified.Kind, Msg: msg, Err: err}
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of err. Unclassified errors are internal; nil has
// no kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindInternal
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
