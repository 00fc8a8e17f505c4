package session

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Every error returned by Service wraps exactly one of them.
var (
	ErrValidation         = errors.New("validation")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	// ErrTokenReuse is reported to clients exactly like ErrUnauthorized.
	ErrTokenReuse = errors.New("token_reuse_detected")
	ErrConflict   = errors.New("conflict")
	ErrInternal   = errors.New("internal")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid session config")
)

// Error is a structured service failure.
// Msg is safe to show to clients for the 4xx kinds; Err is the internal cause
// and is only meant for logs. PrincipalID is set when the failure is tied to
// a known account (token reuse) and must not reach the client either.
type Error struct {
	Op          string
	Kind        error
	Msg         string
	Err         error
	PrincipalID string
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %v: %s: %v", e.Op, e.Kind, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Status maps the kind to an HTTP status code.
func (e *Error) Status() int { return StatusOf(e.Kind) }

// StatusOf maps a kind sentinel to an HTTP status code.
func StatusOf(kind error) int {
	switch kind {
	case ErrValidation:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrInvalidCredentials, ErrUnauthorized, ErrTokenReuse:
		return http.StatusUnauthorized
	case ErrConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// KindOf returns the kind carried by err, or ErrInternal for foreign errors.
func KindOf(err error) error {
	var se *Error
	if errors.As(err, &se) && se.Kind != nil {
		return se.Kind
	}
	return ErrInternal
}

// PrincipalOf returns the account an error is attributed to, if any.
func PrincipalOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.PrincipalID
	}
	return ""
}

func fail(op string, kind error, msg string, cause error) *Error {
	return &Error{Op: op, Kind: kind, Msg: msg, Err: cause}
}

func validation(op, msg string) *Error { return fail(op, ErrValidation, msg, nil) }

func unauthorized(op string, cause error) *Error {
	return fail(op, ErrUnauthorized, "", cause)
}

func internal(op string, cause error) *Error { return fail(op, ErrInternal, "", cause) }
