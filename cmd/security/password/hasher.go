package password

import (
	"context"
	"strings"

	"golang.org/x/sync/semaphore"
)

// Hasher hashes and verifies passwords through a bounded worker pool.
// It is safe for concurrent use.
type Hasher struct {
	cfg  Config
	pool *semaphore.Weighted
}

// NewHasher builds a Hasher. The config is expected to be validated.
func NewHasher(cfg Config) *Hasher {
	cfg = cfg.withDefaults()
	return &Hasher{
		cfg:  cfg,
		pool: semaphore.NewWeighted(int64(cfg.Workers)),
	}
}

// Config returns the effective configuration.
func (h *Hasher) Config() Config { return h.cfg }

// Hash checks the policy and returns a digest for the configured algorithm.
func (h *Hasher) Hash(ctx context.Context, plaintext string) (string, error) {
	if err := h.cfg.Check(plaintext); err != nil {
		return "", err
	}
	if err := h.pool.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.pool.Release(1)

	if h.cfg.Algorithm == AlgorithmBcrypt {
		return hashBcrypt(h.cfg.BcryptCost, plaintext)
	}
	return hashArgon2id(h.cfg.Params, plaintext)
}

// Verify reports whether plaintext matches encoded.
// Returns (false, nil) on mismatch and ErrInvalidHash for malformed or
// unsupported digests.
func (h *Hasher) Verify(ctx context.Context, plaintext, encoded string) (bool, error) {
	var verify func() (bool, error)
	switch {
	case strings.HasPrefix(encoded, argon2Prefix):
		verify = func() (bool, error) { return verifyArgon2id(h.cfg.Params, encoded, plaintext) }
	case isBcryptDigest(encoded):
		verify = func() (bool, error) { return verifyBcrypt(h.cfg.BcryptCost, encoded, plaintext) }
	default:
		return false, ErrInvalidHash
	}

	if err := h.pool.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer h.pool.Release(1)

	return verify()
}
