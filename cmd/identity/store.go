package identity

import (
	"context"
	"strings"
	"time"
)

// Principal is the canonical credential record.
// RefreshDigest is the refresh slot: "" or the digest of the one valid refresh token.
type Principal struct {
	ID           string
	Handle       string
	HandleNorm   string
	Email        string
	EmailNorm    string
	PasswordHash string

	RefreshDigest string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Profile is the projection handed to downstream handlers.
// It never carries the password digest or the refresh slot.
type Profile struct {
	ID        string    `json:"id"`
	Handle    string    `json:"handle"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// Profile projects p.
func (p Principal) Profile() Profile {
	return Profile{
		ID:        p.ID,
		Handle:    p.Handle,
		Email:     p.Email,
		CreatedAt: p.CreatedAt,
	}
}

// CreatePrincipalInput describes a new principal.
// PasswordHash must already be a digest; stores never see plaintext.
type CreatePrincipalInput struct {
	Handle       string
	Email        string
	PasswordHash string
	Now          time.Time
}

// normalized validates in and returns a Principal ready to persist (ID unset).
func (in CreatePrincipalInput) normalized(op string) (Principal, error) {
	handle := strings.TrimSpace(in.Handle)
	email := strings.TrimSpace(in.Email)

	if msg := checkHandle(handle); msg != "" {
		return Principal{}, invalid(op, msg)
	}
	if msg := checkEmail(email); msg != "" {
		return Principal{}, invalid(op, msg)
	}
	if strings.TrimSpace(in.PasswordHash) == "" {
		return Principal{}, invalid(op, "password hash is required")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	return Principal{
		Handle:       handle,
		HandleNorm:   NormalizeHandle(handle),
		Email:        email,
		EmailNorm:    NormalizeEmail(email),
		PasswordHash: in.PasswordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Store is the credential persistence boundary.
//
// Slot contract:
//   - SetRefreshDigest overwrites unconditionally ("" clears).
//   - SwapRefreshDigest replaces the slot only if it still equals expected,
//     atomically with respect to every other slot write. A mismatch returns
//     ErrStale and leaves the slot untouched.
type Store interface {
	CreatePrincipal(ctx context.Context, in CreatePrincipalInput) (Principal, error)
	GetByID(ctx context.Context, id string) (Principal, error)
	// GetByIdentifier resolves a handle or an email (case-insensitive).
	GetByIdentifier(ctx context.Context, identifier string) (Principal, error)

	SetRefreshDigest(ctx context.Context, id, digest string, now time.Time) error
	SwapRefreshDigest(ctx context.Context, id, expected, next string, now time.Time) error
}

func orNow(now time.Time) time.Time {
	if now.IsZero() {
		return time.Now().UTC()
	}
	return now.UTC()
}
