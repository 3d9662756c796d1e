package engine

import (
	"errors"
	"fmt"
)

// Kind is the stable, machine-readable classification of an engine failure.
type Kind string

const (
	KindUnauthorized    Kind = "UNAUTHORIZED"
	KindFetchFailed     Kind = "FETCH_FAILED"
	KindInvalidDocument Kind = "INVALID_DOCUMENT"
	KindNotFound        Kind = "NOT_FOUND"
	KindVersionConflict Kind = "VERSION_CONFLICT"
	KindTransport       Kind = "TRANSPORT_ERROR"
	KindInvalidRequest  Kind = "INVALID_REQUEST"
	KindCanceled        Kind = "CANCELED"
)

type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// KindOf returns the kind of an engine error, or "" for any other error.
func KindOf(err error) Kind {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.Kind
	}
	return ""
}
