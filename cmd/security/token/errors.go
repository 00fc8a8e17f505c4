package token

import "errors"

// Digest key errors returned by KeyFromString. The too-short error is wrapped
// with the observed and required lengths.
var (
	ErrDigestKeyMissing  = errors.New("refresh digest key is empty")
	ErrDigestKeyTooShort = errors.New("refresh digest key too short")
)
