package iap

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrExists   = errors.New("validation record already exists")
	ErrNotFound = errors.New("validation record not found")
)

// ErrorKind classifies why a validation failed.
type ErrorKind uint8

const (
	KindOther ErrorKind = iota
	KindNoReceiptFound
	KindRefreshFailed
	KindIOError
	KindTransportError
	KindEnvironmentMismatch
	KindProductMismatch
	KindMalformedResponse
)

func (k ErrorKind) String() string {
	switch k {
	case KindNoReceiptFound:
		return "no_receipt_found"
	case KindRefreshFailed:
		return "refresh_failed"
	case KindIOError:
		return "io_error"
	case KindTransportError:
		return "transport_error"
	case KindEnvironmentMismatch:
		return "environment_mismatch"
	case KindProductMismatch:
		return "product_mismatch"
	case KindMalformedResponse:
		return "malformed_response"
	default:
		return "other"
	}
}

// Error is the failure outcome of a validation. Two errors are considered
// equal by errors.Is when their kinds match, so callers can compare against
// the Err* kind sentinels below.
type Error struct {
	Kind  ErrorKind
	Cause error
}

var (
	ErrNoReceiptFound      = &Error{Kind: KindNoReceiptFound}
	ErrRefreshFailed       = &Error{Kind: KindRefreshFailed}
	ErrIO                  = &Error{Kind: KindIOError}
	ErrTransport           = &Error{Kind: KindTransportError}
	ErrEnvironmentMismatch = &Error{Kind: KindEnvironmentMismatch}
	ErrProductMismatch     = &Error{Kind: KindProductMismatch}
	ErrMalformedResponse   = &Error{Kind: KindMalformedResponse}
	ErrOther               = &Error{Kind: KindOther}
)

// NewError returns an *Error of the given kind wrapping cause. A nil cause is
// allowed.
func NewError(kind ErrorKind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain. Errors that are
// not classified are KindOther.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindOther
}

// StatusError is the cause attached to a KindOther error when the service
// answered with a non-zero status that is not an environment mismatch.
type StatusError struct {
	Status int
	Err    error
}

func (e *StatusError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("status %d", e.Status)
	}
	return e.Err.Error()
}

func (e *StatusError) Unwrap() error {
	return e.Err
}
