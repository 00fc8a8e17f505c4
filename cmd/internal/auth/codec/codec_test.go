package codec

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var t0 = time.Unix(1_700_000_000, 0)

func testConfig(backend Backend) Config {
	cfg := DefaultConfig()
	cfg.Backend = backend
	switch backend {
	case BackendPaseto:
		cfg.AccessSecret = strings.Repeat("a1", 32)
		cfg.RefreshSecret = strings.Repeat("b2", 32)
	default:
		cfg.AccessSecret = strings.Repeat("access-secret-", 3)
		cfg.RefreshSecret = strings.Repeat("refresh-secret-", 3)
	}
	return cfg
}

func mustCodec(t *testing.T, cfg Config) Codec {
	t.Helper()
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New(%s): %v", cfg.Backend, err)
	}
	return c
}

func forEachBackend(t *testing.T, fn func(t *testing.T, cfg Config, c Codec)) {
	for _, b := range []Backend{BackendJWT, BackendPaseto} {
		t.Run(string(b), func(t *testing.T) {
			cfg := testConfig(b)
			fn(t, cfg, mustCodec(t, cfg))
		})
	}
}

func TestIssueVerify_RoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, cfg Config, c Codec) {
		for _, kind := range []Kind{Access, Refresh} {
			tok, issued, err := c.Issue("01HZXPRINCIPAL", kind, t0.Add(450*time.Millisecond))
			if err != nil {
				t.Fatalf("Issue(%s): %v", kind, err)
			}
			if !issued.IssuedAt.Equal(t0) {
				t.Fatalf("iat must be truncated to seconds: %v", issued.IssuedAt)
			}
			if !issued.ExpiresAt.Equal(t0.Add(cfg.ttl(kind))) {
				t.Fatalf("exp mismatch for %s: %v", kind, issued.ExpiresAt)
			}

			got, err := c.Verify(tok, kind, t0.Add(time.Second))
			if err != nil {
				t.Fatalf("Verify(%s): %v", kind, err)
			}
			if got.Subject != "01HZXPRINCIPAL" || got.ID != issued.ID || got.Kind != kind {
				t.Fatalf("claims mismatch: %+v vs %+v", got, issued)
			}
			if !got.IssuedAt.Equal(issued.IssuedAt) || !got.ExpiresAt.Equal(issued.ExpiresAt) {
				t.Fatalf("times mismatch: %+v vs %+v", got, issued)
			}
		}
	})
}

func TestIssue_UniqueIDs(t *testing.T) {
	forEachBackend(t, func(t *testing.T, _ Config, c Codec) {
		a, ca, _ := c.Issue("p", Refresh, t0)
		b, cb, _ := c.Issue("p", Refresh, t0)
		if a == b || ca.ID == cb.ID {
			t.Fatalf("two tokens issued in the same second must differ")
		}
	})
}

func TestVerify_ExpiryBoundary(t *testing.T) {
	forEachBackend(t, func(t *testing.T, cfg Config, c Codec) {
		tok, claims, err := c.Issue("p", Access, t0)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}

		if _, err := c.Verify(tok, Access, claims.ExpiresAt.Add(-time.Second)); err != nil {
			t.Fatalf("expected valid just before expiry, got %v", err)
		}
		if _, err := c.Verify(tok, Access, claims.ExpiresAt); err != nil {
			t.Fatalf("expected valid at the exact expiry instant, got %v", err)
		}
		if _, err := c.Verify(tok, Access, claims.ExpiresAt.Add(time.Nanosecond)); !errors.Is(err, ErrExpired) {
			t.Fatalf("expected ErrExpired just past expiry, got %v", err)
		}
		if _, err := c.Verify(tok, Access, claims.ExpiresAt.Add(time.Hour)); !errors.Is(err, ErrExpired) {
			t.Fatalf("expected ErrExpired after expiry, got %v", err)
		}
	})
}

func TestVerify_Leeway(t *testing.T) {
	forEachBackend(t, func(t *testing.T, cfg Config, _ Codec) {
		cfg.Leeway = 30 * time.Second
		c := mustCodec(t, cfg)

		tok, claims, _ := c.Issue("p", Access, t0)
		if _, err := c.Verify(tok, Access, claims.ExpiresAt.Add(10*time.Second)); err != nil {
			t.Fatalf("expected leeway to accept, got %v", err)
		}
		if _, err := c.Verify(tok, Access, claims.ExpiresAt.Add(30*time.Second)); err != nil {
			t.Fatalf("expected the leeway edge to accept, got %v", err)
		}
		if _, err := c.Verify(tok, Access, claims.ExpiresAt.Add(31*time.Second)); !errors.Is(err, ErrExpired) {
			t.Fatalf("expected ErrExpired past leeway, got %v", err)
		}
	})
}

func TestVerify_KindSeparation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, _ Config, c Codec) {
		access, _, _ := c.Issue("p", Access, t0)
		refresh, _, _ := c.Issue("p", Refresh, t0)

		// Distinct keys: a token of the other kind fails integrity first.
		if _, err := c.Verify(access, Refresh, t0); err == nil {
			t.Fatalf("access token must not verify as refresh")
		}
		if _, err := c.Verify(refresh, Access, t0); err == nil {
			t.Fatalf("refresh token must not verify as access")
		}
	})
}

func TestVerify_Tampered(t *testing.T) {
	forEachBackend(t, func(t *testing.T, _ Config, c Codec) {
		tok, _, _ := c.Issue("p", Access, t0)

		// Flip a character in the middle of the token body.
		mid := len(tok) / 2
		repl := byte('A')
		if tok[mid] == 'A' {
			repl = 'B'
		}
		tampered := tok[:mid] + string(repl) + tok[mid+1:]

		_, err := c.Verify(tampered, Access, t0)
		if err == nil {
			t.Fatalf("tampered token must fail")
		}
		if !errors.Is(err, ErrInvalidSignature) && !errors.Is(err, ErrMalformed) {
			t.Fatalf("expected signature or structure failure, got %v", err)
		}
	})
}

func TestVerify_WrongKey(t *testing.T) {
	forEachBackend(t, func(t *testing.T, cfg Config, c Codec) {
		tok, _, _ := c.Issue("p", Access, t0)

		other := cfg
		if cfg.Backend == BackendPaseto {
			other.AccessSecret = strings.Repeat("c3", 32)
		} else {
			other.AccessSecret = strings.Repeat("another-access-secret", 2)
		}
		if _, err := mustCodec(t, other).Verify(tok, Access, t0); !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("expected ErrInvalidSignature, got %v", err)
		}
	})
}

func TestVerify_Malformed(t *testing.T) {
	forEachBackend(t, func(t *testing.T, _ Config, c Codec) {
		for _, in := range []string{"", "garbage", "a.b", "v4.local.", "v4.local.AAAA", "v4.public.eyJ"} {
			if _, err := c.Verify(in, Access, t0); !errors.Is(err, ErrMalformed) {
				t.Fatalf("Verify(%q): expected ErrMalformed, got %v", in, err)
			}
		}
	})
}

func TestVerify_IssuerMismatch(t *testing.T) {
	forEachBackend(t, func(t *testing.T, cfg Config, c Codec) {
		tok, _, _ := c.Issue("p", Access, t0)

		other := cfg
		other.Issuer = "someone-else"
		if _, err := mustCodec(t, other).Verify(tok, Access, t0); !errors.Is(err, ErrInvalidClaims) {
			t.Fatalf("expected ErrInvalidClaims, got %v", err)
		}
	})
}

func TestIssue_RejectsBadInput(t *testing.T) {
	forEachBackend(t, func(t *testing.T, _ Config, c Codec) {
		if _, _, err := c.Issue(" ", Access, t0); !errors.Is(err, ErrInvalidClaims) {
			t.Fatalf("expected ErrInvalidClaims for empty subject, got %v", err)
		}
		if _, _, err := c.Issue("p", Kind("id"), t0); !errors.Is(err, ErrInvalidClaims) {
			t.Fatalf("expected ErrInvalidClaims for unknown kind, got %v", err)
		}
	})
}

func TestJWT_WrongKindWithSharedKey(t *testing.T) {
	// Config forbids equal secrets; build the codec directly to reach the typ check.
	cfg := testConfig(BackendJWT)
	cfg.RefreshSecret = cfg.AccessSecret
	c := newJWTCodec(cfg)

	tok, _, _ := c.Issue("p", Access, t0)
	if _, err := c.Verify(tok, Refresh, t0); !errors.Is(err, ErrWrongKind) {
		t.Fatalf("expected ErrWrongKind, got %v", err)
	}
}

func TestPaseto_WrongKindWithSharedKey(t *testing.T) {
	cfg := testConfig(BackendPaseto)
	cfg.RefreshSecret = cfg.AccessSecret
	c, err := newPasetoCodec(cfg)
	if err != nil {
		t.Fatalf("newPasetoCodec: %v", err)
	}

	tok, _, _ := c.Issue("p", Refresh, t0)
	if _, err := c.Verify(tok, Access, t0); !errors.Is(err, ErrWrongKind) {
		t.Fatalf("expected ErrWrongKind, got %v", err)
	}
}
