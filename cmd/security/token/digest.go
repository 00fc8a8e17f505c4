package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// MinKeyBytes is the smallest HMAC key accepted in enforced mode.
const MinKeyBytes = 32

// Digester turns refresh tokens into stable hex digests.
// The zero value digests with unkeyed SHA-256.
type Digester struct {
	key []byte
}

// NewDigester returns a Digester. An empty key selects the SHA-256 fallback.
func NewDigester(key []byte) *Digester {
	if len(key) == 0 {
		return &Digester{}
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Digester{key: k}
}

// Keyed reports whether HMAC mode is active.
func (d *Digester) Keyed() bool { return d != nil && len(d.key) > 0 }

// Digest returns the hex digest of tok.
func (d *Digester) Digest(tok string) string {
	if !d.Keyed() {
		return HashSHA256Hex(tok)
	}
	return HashHMACSHA256Hex(tok, d.key)
}

// Equal compares two digests in constant time.
// Two empty strings are never equal: an empty slot matches nothing.
func Equal(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// KeyFromString trims raw and enforces a minimum byte length.
// Blank input -> ErrDigestKeyMissing. Too short -> ErrDigestKeyTooShort.
func KeyFromString(raw string, minBytes int) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrDigestKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, fmt.Errorf("%w: %d bytes, need %d", ErrDigestKeyTooShort, len(b), minBytes)
	}
	return b, nil
}
