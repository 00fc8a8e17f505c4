package codec

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type jwtClaims struct {
	Kind string `json:"typ"`
	jwt.RegisteredClaims
}

type jwtCodec struct {
	cfg  Config
	keys map[Kind][]byte
}

func newJWTCodec(cfg Config) *jwtCodec {
	return &jwtCodec{
		cfg: cfg,
		keys: map[Kind][]byte{
			Access:  []byte(cfg.AccessSecret),
			Refresh: []byte(cfg.RefreshSecret),
		},
	}
}

func (c *jwtCodec) Issue(subject string, kind Kind, now time.Time) (string, Claims, error) {
	claims, err := newClaims(subject, kind, c.cfg.ttl(kind), now)
	if err != nil {
		return "", Claims{}, err
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		Kind: string(kind),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.cfg.Issuer,
			Subject:   claims.Subject,
			ID:        claims.ID,
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
	})
	signed, err := tok.SignedString(c.keys[kind])
	if err != nil {
		return "", Claims{}, fmt.Errorf("sign: %w", err)
	}
	return signed, claims, nil
}

func (c *jwtCodec) Verify(token string, kind Kind, now time.Time) (Claims, error) {
	key, ok := c.keys[kind]
	if !ok {
		return Claims{}, ErrWrongKind
	}

	// The library only checks the signature and algorithm; claims are
	// checked below so both backends share one expiry boundary.
	p := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	var out jwtClaims
	_, err := p.ParseWithClaims(token, &out, func(*jwt.Token) (any, error) { return key, nil })
	if err != nil {
		return Claims{}, classifyJWT(err)
	}

	if out.Issuer != c.cfg.Issuer || out.ExpiresAt == nil {
		return Claims{}, ErrInvalidClaims
	}
	if expired(out.ExpiresAt.Time, now, c.cfg.Leeway) {
		return Claims{}, ErrExpired
	}
	if Kind(out.Kind) != kind {
		return Claims{}, ErrWrongKind
	}
	if out.Subject == "" || out.ID == "" || out.IssuedAt == nil {
		return Claims{}, ErrInvalidClaims
	}

	return Claims{
		Subject:   out.Subject,
		ID:        out.ID,
		Kind:      kind,
		IssuedAt:  out.IssuedAt.UTC(),
		ExpiresAt: out.ExpiresAt.UTC(),
	}, nil
}

func classifyJWT(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	default:
		return fmt.Errorf("%w: %v", ErrInvalidClaims, err)
	}
}
