package codec

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

const (
	pasetoHeader = "v4.local."
	// 32-byte nonce + 32-byte tag, before any ciphertext.
	pasetoMinPayload = 64
)

type pasetoCodec struct {
	cfg  Config
	keys map[Kind]paseto.V4SymmetricKey
}

func newPasetoCodec(cfg Config) (*pasetoCodec, error) {
	access, err := paseto.V4SymmetricKeyFromHex(cfg.AccessSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: access key: %v", ErrConfig, err)
	}
	refresh, err := paseto.V4SymmetricKeyFromHex(cfg.RefreshSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: refresh key: %v", ErrConfig, err)
	}
	return &pasetoCodec{
		cfg: cfg,
		keys: map[Kind]paseto.V4SymmetricKey{
			Access:  access,
			Refresh: refresh,
		},
	}, nil
}

func (c *pasetoCodec) Issue(subject string, kind Kind, now time.Time) (string, Claims, error) {
	claims, err := newClaims(subject, kind, c.cfg.ttl(kind), now)
	if err != nil {
		return "", Claims{}, err
	}

	tok := paseto.NewToken()
	tok.SetIssuer(c.cfg.Issuer)
	tok.SetSubject(claims.Subject)
	tok.SetJti(claims.ID)
	tok.SetIssuedAt(claims.IssuedAt)
	tok.SetExpiration(claims.ExpiresAt)
	tok.SetString("typ", string(kind))

	return tok.V4Encrypt(c.keys[kind], nil), claims, nil
}

func (c *pasetoCodec) Verify(token string, kind Kind, now time.Time) (Claims, error) {
	key, ok := c.keys[kind]
	if !ok {
		return Claims{}, ErrWrongKind
	}
	if !wellFormedLocal(token) {
		return Claims{}, ErrMalformed
	}

	// Expiry is checked below against the caller's clock, not wall time.
	p := paseto.NewParserWithoutExpiryCheck()
	parsed, err := p.ParseV4Local(key, token, nil)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	if iss, err := parsed.GetIssuer(); err != nil || iss != c.cfg.Issuer {
		return Claims{}, ErrInvalidClaims
	}
	if typ, err := parsed.GetString("typ"); err != nil || Kind(typ) != kind {
		return Claims{}, ErrWrongKind
	}

	exp, err := parsed.GetExpiration()
	if err != nil {
		return Claims{}, ErrInvalidClaims
	}
	if expired(exp, now, c.cfg.Leeway) {
		return Claims{}, ErrExpired
	}

	sub, err := parsed.GetSubject()
	if err != nil || sub == "" {
		return Claims{}, ErrInvalidClaims
	}
	jti, err := parsed.GetJti()
	if err != nil || jti == "" {
		return Claims{}, ErrInvalidClaims
	}
	iat, err := parsed.GetIssuedAt()
	if err != nil {
		return Claims{}, ErrInvalidClaims
	}

	return Claims{
		Subject:   sub,
		ID:        jti,
		Kind:      kind,
		IssuedAt:  iat.UTC(),
		ExpiresAt: exp.UTC(),
	}, nil
}

// wellFormedLocal checks the header and payload length without the key.
func wellFormedLocal(token string) bool {
	rest, ok := strings.CutPrefix(token, pasetoHeader)
	if !ok {
		return false
	}
	payload, _, _ := strings.Cut(rest, ".")
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return false
	}
	return len(raw) >= pasetoMinPayload
}
