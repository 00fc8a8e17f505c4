package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"voir/cmd/identity"
	"voir/cmd/internal/auth/codec"
	"voir/cmd/security/password"
	"voir/cmd/security/token"
)

// PasswordHasher is the subset of password.Hasher the service needs.
type PasswordHasher interface {
	Hash(ctx context.Context, plaintext string) (string, error)
	Verify(ctx context.Context, plaintext, encoded string) (bool, error)
}

// Service implements the session lifecycle on top of a credential store.
// It is safe for concurrent use; the store's compare-and-swap is the only
// coordination between concurrent refreshes.
type Service struct {
	cfg      Config
	store    identity.Store
	hasher   PasswordHasher
	codec    codec.Codec
	digester *token.Digester

	log     *slog.Logger
	events  Publisher
	metrics *Metrics
	now     func() time.Time

	dummyMu   sync.Mutex
	dummyHash string
}

// Issued is the result of a login or a refresh.
type Issued struct {
	Principal        identity.Profile
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithPublisher sets the event sink for session lifecycle events.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.events = p
		}
	}
}

// WithMetrics enables outcome counters.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires a Service. All collaborators are required.
func NewService(cfg Config, store identity.Store, hasher PasswordHasher, tokens codec.Codec, opts ...Option) (*Service, error) {
	if store == nil || hasher == nil || tokens == nil {
		return nil, ErrConfig
	}
	if cfg.MaxTokenBytes == 0 {
		cfg.MaxTokenBytes = DefaultConfig().MaxTokenBytes
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		cfg:      cfg,
		store:    store,
		hasher:   hasher,
		codec:    tokens,
		digester: cfg.Digester(),
		log:      slog.Default(),
		events:   noopPublisher{},
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Login verifies a password and starts a new session, replacing any previous one.
func (s *Service) Login(ctx context.Context, identifier, plaintext string) (Issued, error) {
	const op = "session.Login"

	identifier = strings.TrimSpace(identifier)
	if identifier == "" || plaintext == "" {
		s.metrics.login("invalid_input")
		return Issued{}, validation(op, "identifier and password are required")
	}

	p, err := s.store.GetByIdentifier(ctx, identifier)
	if err != nil {
		switch {
		case identity.IsNotFound(err):
			// Spend the same hashing work as a real verify.
			s.burnVerify(ctx, plaintext)
			s.metrics.login("not_found")
			return Issued{}, fail(op, ErrNotFound, "principal not found", err)
		case identity.IsInvalidInput(err):
			s.metrics.login("invalid_input")
			return Issued{}, fail(op, ErrValidation, "identifier is invalid", err)
		default:
			s.metrics.login("error")
			return Issued{}, internal(op, err)
		}
	}

	ok, err := s.hasher.Verify(ctx, plaintext, p.PasswordHash)
	if err != nil {
		if errors.Is(err, password.ErrInvalidHash) {
			s.log.Error("auth.login.corrupt_credential", "principal_id", p.ID)
		}
		s.metrics.login("error")
		return Issued{}, internal(op, err)
	}
	if !ok {
		s.metrics.login("invalid_credentials")
		return Issued{}, fail(op, ErrInvalidCredentials, "invalid credentials", nil)
	}

	now := s.now()
	out, digest, err := s.issuePair(p, now)
	if err != nil {
		s.metrics.login("error")
		return Issued{}, internal(op, err)
	}

	if err := s.store.SetRefreshDigest(ctx, p.ID, digest, now); err != nil {
		s.metrics.login("error")
		return Issued{}, internal(op, err)
	}

	if p.RefreshDigest != "" {
		s.publish(EventSuperseded, p.ID, now)
	}
	s.metrics.login("success")
	return out, nil
}

// Refresh rotates a refresh token into a new pair.
//
// A token that verifies but no longer matches the slot is TokenReuse and the
// slot is left untouched. Losing a concurrent swap is reported the same way.
func (s *Service) Refresh(ctx context.Context, presented string) (Issued, error) {
	const op = "session.Refresh"

	presented = strings.TrimSpace(presented)
	if presented == "" {
		s.metrics.refresh("invalid_input")
		return Issued{}, validation(op, "refresh token is required")
	}
	if len(presented) > s.cfg.MaxTokenBytes {
		s.metrics.refresh("invalid_input")
		return Issued{}, validation(op, "refresh token too large")
	}

	now := s.now()
	claims, err := s.codec.Verify(presented, codec.Refresh, now)
	if err != nil {
		s.metrics.refresh("unauthorized")
		return Issued{}, unauthorized(op, err)
	}

	p, err := s.store.GetByID(ctx, claims.Subject)
	if err != nil {
		if identity.IsNotFound(err) || identity.IsInvalidInput(err) {
			s.metrics.refresh("unauthorized")
			return Issued{}, unauthorized(op, err)
		}
		s.metrics.refresh("error")
		return Issued{}, internal(op, err)
	}

	if p.RefreshDigest == "" {
		s.metrics.refresh("unauthorized")
		return Issued{}, unauthorized(op, errors.New("no active session"))
	}

	presentedDigest := s.digester.Digest(presented)
	if !token.Equal(p.RefreshDigest, presentedDigest) {
		return Issued{}, s.reuse(op, p.ID, claims, now, nil)
	}

	out, nextDigest, err := s.issuePair(p, now)
	if err != nil {
		s.metrics.refresh("error")
		return Issued{}, internal(op, err)
	}

	if err := s.store.SwapRefreshDigest(ctx, p.ID, presentedDigest, nextDigest, now); err != nil {
		switch {
		case identity.IsStale(err):
			return Issued{}, s.reuse(op, p.ID, claims, now, err)
		case identity.IsNotFound(err):
			s.metrics.refresh("unauthorized")
			return Issued{}, unauthorized(op, err)
		default:
			s.metrics.refresh("error")
			return Issued{}, internal(op, err)
		}
	}

	s.publish(EventRotated, p.ID, now)
	s.metrics.refresh("success")
	return out, nil
}

func (s *Service) reuse(op, principalID string, claims codec.Claims, now time.Time, cause error) error {
	s.log.Warn("session.reuse_detected",
		"principal_id", principalID,
		"jti", claims.ID,
		"issued_at", claims.IssuedAt,
	)
	s.publish(EventReuseDetected, principalID, now)
	s.metrics.refresh("reuse_detected")
	e := fail(op, ErrTokenReuse, "", cause)
	e.PrincipalID = principalID
	return e
}

// Logout clears the refresh slot. Clearing an empty slot is not an error.
func (s *Service) Logout(ctx context.Context, principalID string) error {
	const op = "session.Logout"

	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return validation(op, "principal id is required")
	}

	now := s.now()
	if err := s.store.SetRefreshDigest(ctx, principalID, "", now); err != nil {
		if identity.IsNotFound(err) {
			return unauthorized(op, err)
		}
		return internal(op, err)
	}

	s.publish(EventRevoked, principalID, now)
	return nil
}

// Authenticate verifies an access token and loads the principal's profile.
// Every verification failure is ErrUnauthorized; the cause stays attached.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (identity.Profile, error) {
	const op = "session.Authenticate"

	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return identity.Profile{}, unauthorized(op, errors.New("missing token"))
	}
	if len(accessToken) > s.cfg.MaxTokenBytes {
		return identity.Profile{}, unauthorized(op, errors.New("token too large"))
	}

	claims, err := s.codec.Verify(accessToken, codec.Access, s.now())
	if err != nil {
		return identity.Profile{}, unauthorized(op, err)
	}

	p, err := s.store.GetByID(ctx, claims.Subject)
	if err != nil {
		if identity.IsNotFound(err) || identity.IsInvalidInput(err) {
			return identity.Profile{}, unauthorized(op, err)
		}
		return identity.Profile{}, internal(op, err)
	}
	return p.Profile(), nil
}

// RegisterInput describes a new principal.
type RegisterInput struct {
	Handle   string
	Email    string
	Password string
}

// Register creates a principal. It does not start a session.
func (s *Service) Register(ctx context.Context, in RegisterInput) (identity.Profile, error) {
	const op = "session.Register"

	if strings.TrimSpace(in.Handle) == "" || strings.TrimSpace(in.Email) == "" || in.Password == "" {
		return identity.Profile{}, validation(op, "handle, email and password are required")
	}

	digest, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		if password.IsPolicyViolation(err) {
			return identity.Profile{}, fail(op, ErrValidation, policyMessage(err), err)
		}
		return identity.Profile{}, internal(op, err)
	}

	p, err := s.store.CreatePrincipal(ctx, identity.CreatePrincipalInput{
		Handle:       in.Handle,
		Email:        in.Email,
		PasswordHash: digest,
		Now:          s.now(),
	})
	if err != nil {
		switch {
		case identity.IsConflict(err):
			return identity.Profile{}, fail(op, ErrConflict, identity.ConflictField(err)+" already taken", err)
		case identity.IsInvalidInput(err):
			var oe identity.OpError
			msg := "invalid input"
			if errors.As(err, &oe) && oe.Msg != "" {
				msg = oe.Msg
			}
			return identity.Profile{}, fail(op, ErrValidation, msg, err)
		default:
			return identity.Profile{}, internal(op, err)
		}
	}
	return p.Profile(), nil
}

func policyMessage(err error) string {
	switch {
	case errors.Is(err, password.ErrPasswordTooShort):
		return "password too short"
	case errors.Is(err, password.ErrPasswordTooLong):
		return "password too long"
	default:
		return "password too weak"
	}
}

// issuePair mints access and refresh tokens and the digest for the slot.
func (s *Service) issuePair(p identity.Principal, now time.Time) (Issued, string, error) {
	access, ac, err := s.codec.Issue(p.ID, codec.Access, now)
	if err != nil {
		return Issued{}, "", err
	}
	refresh, rc, err := s.codec.Issue(p.ID, codec.Refresh, now)
	if err != nil {
		return Issued{}, "", err
	}
	return Issued{
		Principal:        p.Profile(),
		AccessToken:      access,
		AccessExpiresAt:  ac.ExpiresAt,
		RefreshToken:     refresh,
		RefreshExpiresAt: rc.ExpiresAt,
	}, s.digester.Digest(refresh), nil
}

// burnVerify runs a verify against a throwaway digest so unknown
// identifiers cost about as much as wrong passwords.
func (s *Service) burnVerify(ctx context.Context, plaintext string) {
	dummy, err := s.dummyDigest(ctx)
	if err != nil {
		s.log.Warn("auth.login.dummy_hash_failed", "err", err)
		return
	}
	_, _ = s.hasher.Verify(ctx, plaintext, dummy)
}

// dummyDigest builds the throwaway digest on first use. It is detached from
// the caller's cancellation, and a failed attempt is retried by the next call.
func (s *Service) dummyDigest(ctx context.Context) (string, error) {
	s.dummyMu.Lock()
	defer s.dummyMu.Unlock()

	if s.dummyHash != "" {
		return s.dummyHash, nil
	}
	b := make([]byte, 18)
	_, _ = rand.Read(b)
	h, err := s.hasher.Hash(context.WithoutCancel(ctx), base64.RawURLEncoding.EncodeToString(b))
	if err != nil {
		return "", err
	}
	s.dummyHash = h
	return h, nil
}

func (s *Service) publish(t EventType, principalID string, at time.Time) {
	s.events.Publish(Event{Type: t, PrincipalID: principalID, At: at.UTC()})
}
