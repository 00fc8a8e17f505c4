package session

import (
	"fmt"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"

	"voir/cmd/security/token"
)

// Config controls refresh slot digests and input bounds.
type Config struct {
	// DigestKey keys the HMAC over refresh tokens before they reach the store.
	// Empty means unkeyed SHA-256 (dev only).
	DigestKey string `yaml:"refresh_digest_key" env:"VOIR_REFRESH_DIGEST_KEY"`

	// RequireDigestKey rejects startup without a >= 32-byte DigestKey.
	RequireDigestKey bool `yaml:"require_refresh_digest_key" env:"VOIR_REQUIRE_REFRESH_DIGEST_KEY"`

	// MaxTokenBytes bounds presented tokens before any parsing.
	MaxTokenBytes int `yaml:"max_token_bytes" env:"VOIR_SESSION_MAX_TOKEN_BYTES" env-default:"4096"`
}

// DefaultConfig returns the development defaults.
func DefaultConfig() Config {
	return Config{MaxTokenBytes: 4096}
}

// LoadConfigFromEnv reads VOIR_REFRESH_DIGEST_KEY and friends.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks bounds and, when required, the digest key.
func (c Config) Validate() error {
	if c.MaxTokenBytes < 256 || c.MaxTokenBytes > 16384 {
		return fmt.Errorf("%w: max token bytes out of range [256..16384]", ErrConfig)
	}
	if c.RequireDigestKey {
		if _, err := token.KeyFromString(c.DigestKey, token.MinKeyBytes); err != nil {
			return fmt.Errorf("%w: %v", ErrConfig, err)
		}
	}
	return nil
}

// Digester builds the refresh digester for this config.
func (c Config) Digester() *token.Digester {
	return token.NewDigester([]byte(strings.TrimSpace(c.DigestKey)))
}
