package codec

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind separates access tokens from refresh tokens.
type Kind string

const (
	Access  Kind = "access"
	Refresh Kind = "refresh"
)

func (k Kind) valid() bool { return k == Access || k == Refresh }

// Claims is the decoded payload. Times are whole seconds.
type Claims struct {
	Subject   string
	ID        string
	Kind      Kind
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Codec signs and verifies tokens of both kinds.
type Codec interface {
	Issue(subject string, kind Kind, now time.Time) (string, Claims, error)
	Verify(token string, kind Kind, now time.Time) (Claims, error)
}

// New builds the codec selected by cfg.Backend.
func New(cfg Config) (Codec, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case BackendPaseto:
		return newPasetoCodec(cfg)
	default:
		return newJWTCodec(cfg), nil
	}
}

// newClaims stamps a fresh jti and second-precision times.
func newClaims(subject string, kind Kind, ttl time.Duration, now time.Time) (Claims, error) {
	if strings.TrimSpace(subject) == "" {
		return Claims{}, fmt.Errorf("%w: empty subject", ErrInvalidClaims)
	}
	if !kind.valid() {
		return Claims{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidClaims, kind)
	}
	iat := now.UTC().Truncate(time.Second)
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return Claims{}, fmt.Errorf("jti: %w", err)
	}
	return Claims{
		Subject:   subject,
		ID:        id.String(),
		Kind:      kind,
		IssuedAt:  iat,
		ExpiresAt: iat.Add(ttl),
	}, nil
}

// expired reports whether now is strictly past exp, after leeway.
// A token is still good at its exact expiry instant.
func expired(exp, now time.Time, leeway time.Duration) bool {
	return now.After(exp.Add(leeway))
}
