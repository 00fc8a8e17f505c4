package codec

import "errors"

// Verification failures. They are distinct so callers can log the cause,
// and they all collapse to one client-visible "unauthorized".
var (
	ErrMalformed        = errors.New("token malformed")
	ErrInvalidSignature = errors.New("token signature invalid")
	ErrExpired          = errors.New("token expired")
	ErrWrongKind        = errors.New("token kind mismatch")
	ErrInvalidClaims    = errors.New("token claims invalid")

	ErrConfig = errors.New("invalid token config")
)
