// Package apperr defines the caller-visible error kinds the wallet engine
// can return, each bound to one HTTP status, so the facade and HTTP layer
// map errors in a single place instead of re-deriving a status per call site.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a caller-visible error category.
type Kind string

const (
	KindInsufficientFunds Kind = "InsufficientFunds"
	KindInvalidCode       Kind = "InvalidCode"
	KindExpired           Kind = "Expired"
	KindNonPositiveAmount Kind = "NonPositiveAmount"
	KindSelfTransfer      Kind = "SelfTransfer"
	KindNoSuchUser        Kind = "NoSuchUser"
	KindAlreadyExists     Kind = "AlreadyExists"
	KindNotFound          Kind = "NotFound"
	KindNotOwner          Kind = "NotOwner"
	KindForbidden         Kind = "Forbidden"
	KindUnauthorized      Kind = "Unauthorized"
	KindBadSignature      Kind = "BadSignature"
	KindDuplicatePhone    Kind = "DuplicatePhone"
	KindBadRequest        Kind = "BadRequest"
	KindWalletNotFound    Kind = "WalletNotFound"
	KindInternal          Kind = "Internal"
)

// statusByKind is the one-place error-kind -> HTTP-status mapping spec.md
// §7 requires.
var statusByKind = map[Kind]int{
	KindInsufficientFunds: http.StatusBadRequest,
	KindInvalidCode:       http.StatusBadRequest,
	KindExpired:           http.StatusBadRequest,
	KindNonPositiveAmount: http.StatusBadRequest,
	KindSelfTransfer:      http.StatusBadRequest,
	KindNoSuchUser:        http.StatusBadRequest,
	KindAlreadyExists:     http.StatusBadRequest,
	KindNotFound:          http.StatusNotFound,
	KindNotOwner:          http.StatusBadRequest,
	KindForbidden:         http.StatusForbidden,
	KindUnauthorized:      http.StatusUnauthorized,
	KindBadSignature:      http.StatusUnauthorized,
	KindDuplicatePhone:    http.StatusBadRequest,
	KindBadRequest:        http.StatusBadRequest,
	KindWalletNotFound:    http.StatusNotFound,
	KindInternal:          http.StatusInternalServerError,
}

// Error is a typed, caller-visible error carrying a Kind, a human-readable
// detail message, and the underlying cause (if any).
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status returns the HTTP status code for this error's Kind.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New constructs an *Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind, wrapping an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Internal wraps err as a KindInternal error, the catch-all for unexpected
// failures inside the engine (spec.md §7: "Unexpected exceptions inside
// the engine surface as Internal(500)").
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", Err: err}
}

// As reports whether err is (or wraps) an *Error, returning it if so.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// Is reports whether err is (or wraps) an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	ae, ok := As(err)
	return ok && ae.Kind == kind
}

// StatusOf returns the HTTP status for any error, defaulting to 500 for
// errors that aren't an *Error.
func StatusOf(err error) int {
	if ae, ok := As(err); ok {
		return ae.Status()
	}
	return http.StatusInternalServerError
}
