package token

import (
	"errors"
	"strings"
	"testing"
)

func TestDigester_FallbackMatchesSHA256(t *testing.T) {
	d := NewDigester(nil)
	if d.Keyed() {
		t.Fatalf("expected unkeyed digester")
	}

	got := d.Digest("refresh-token")
	if got != HashSHA256Hex("refresh-token") {
		t.Fatalf("fallback digest mismatch")
	}
	if len(got) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(got))
	}
}

func TestDigester_Keyed(t *testing.T) {
	key := []byte(strings.Repeat("k", MinKeyBytes))
	d := NewDigester(key)
	if !d.Keyed() {
		t.Fatalf("expected keyed digester")
	}

	a := d.Digest("refresh-token")
	if a == HashSHA256Hex("refresh-token") {
		t.Fatalf("keyed digest must differ from plain sha256")
	}
	if a != d.Digest("refresh-token") {
		t.Fatalf("digest must be deterministic")
	}
	if a == d.Digest("refresh-token2") {
		t.Fatalf("different tokens must not collide")
	}

	// Mutating the caller's slice must not change the digester.
	key[0] = 'x'
	if a != d.Digest("refresh-token") {
		t.Fatalf("digester must own its key")
	}

	other := NewDigester([]byte(strings.Repeat("z", MinKeyBytes)))
	if other.Digest("refresh-token") == a {
		t.Fatalf("different keys must yield different digests")
	}
}

func TestEqual(t *testing.T) {
	d := NewDigester(nil)
	a := d.Digest("one")

	if !Equal(a, d.Digest("one")) {
		t.Fatalf("expected equal")
	}
	if Equal(a, d.Digest("two")) {
		t.Fatalf("expected not equal")
	}
	if Equal("", "") || Equal(a, "") || Equal("", a) {
		t.Fatalf("empty digests must never match")
	}
}

func TestKeyFromString(t *testing.T) {
	if _, err := KeyFromString("   ", MinKeyBytes); !errors.Is(err, ErrDigestKeyMissing) {
		t.Fatalf("expected ErrDigestKeyMissing, got %v", err)
	}
	_, err := KeyFromString("short", MinKeyBytes)
	if !errors.Is(err, ErrDigestKeyTooShort) {
		t.Fatalf("expected ErrDigestKeyTooShort, got %v", err)
	}
	if !strings.Contains(err.Error(), "5 bytes, need 32") {
		t.Fatalf("too-short error should carry lengths: %v", err)
	}

	raw := "  " + strings.Repeat("a", MinKeyBytes) + "  "
	k, err := KeyFromString(raw, MinKeyBytes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(k) != MinKeyBytes {
		t.Fatalf("expected trimmed key, got %d bytes", len(k))
	}

	if _, err := KeyFromString("tiny", 0); err != nil {
		t.Fatalf("minBytes=0 must not enforce length: %v", err)
	}
}
