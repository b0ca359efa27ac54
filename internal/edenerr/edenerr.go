// Package edenerr defines the typed error taxonomy shared by every host
// subsystem so that callers (CLI, command bus, HTTP/websocket bridge) can
// surface a stable {kind, message} pair instead of an opaque error string.
package edenerr

import (
	"errors"
	"fmt"
)

// Kind identifies the class of failure, independent of which subsystem
// produced it.
type Kind string

const (
	NotFound        Kind = "NotFound"
	AlreadyExists   Kind = "AlreadyExists"
	BadFormat       Kind = "BadFormat"
	Corrupt         Kind = "Corrupt"
	PermissionDenied Kind = "PermissionDenied"
	Timeout         Kind = "Timeout"
	StartupFailure  Kind = "StartupFailure"
	ProviderGone    Kind = "ProviderGone"
	RequesterGone   Kind = "RequesterGone"
	SystemApp       Kind = "SystemApp"
	Conflict        Kind = "Conflict"
	Io              Kind = "Io"
)

// Error is the concrete error type carried across subsystem boundaries.
type Error struct {
	Kind    Kind
	Message string
	Err     error // optional wrapped cause
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a kinded error with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a kinded error that carries an underlying cause.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from err, walking the unwrap chain. Returns
// ("", false) when neither err nor anything in its chain is an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err's Kind (anywhere in its unwrap chain) equals kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Payload is the wire shape sent back to a caller on failure.
type Payload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ToPayload converts any error into the {kind, message} shape views and
// backends receive. Unkinded errors surface as "Io".
func ToPayload(err error) Payload {
	if err == nil {
		return Payload{}
	}
	k, ok := KindOf(err)
	if !ok {
		k = Io
	}
	return Payload{Kind: string(k), Message: err.Error()}
}
