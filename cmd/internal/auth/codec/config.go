package codec

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Backend names a token format.
type Backend string

const (
	BackendJWT    Backend = "jwt"
	BackendPaseto Backend = "paseto"
)

// MinSecretBytes is the shortest accepted JWT HMAC secret.
const MinSecretBytes = 32

// Config holds the secrets and lifetimes for both token kinds.
//
// For the jwt backend secrets are raw strings (>= 32 bytes).
// For the paseto backend they are 64-char hex (32-byte symmetric keys).
type Config struct {
	Backend       Backend       `yaml:"backend" env:"VOIR_TOKEN_BACKEND" env-default:"jwt"`
	Issuer        string        `yaml:"issuer" env:"VOIR_TOKEN_ISSUER" env-default:"voir"`
	AccessSecret  string        `yaml:"access_secret" env:"VOIR_ACCESS_TOKEN_SECRET"`
	RefreshSecret string        `yaml:"refresh_secret" env:"VOIR_REFRESH_TOKEN_SECRET"`
	AccessTTL     time.Duration `yaml:"access_ttl" env:"VOIR_ACCESS_TOKEN_TTL" env-default:"15m"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl" env:"VOIR_REFRESH_TOKEN_TTL" env-default:"240h"`
	Leeway        time.Duration `yaml:"leeway" env:"VOIR_TOKEN_LEEWAY" env-default:"0s"`
}

// DefaultConfig returns lifetimes and backend defaults. Secrets stay empty.
func DefaultConfig() Config {
	return Config{
		Backend:    BackendJWT,
		Issuer:     "voir",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 10 * 24 * time.Hour,
	}
}

// LoadConfigFromEnv reads VOIR_TOKEN_* and VOIR_*_TOKEN_* variables.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Normalize trims secrets and lower-cases the backend name.
func (c *Config) Normalize() {
	c.Backend = Backend(strings.ToLower(strings.TrimSpace(string(c.Backend))))
	if c.Backend == "" {
		c.Backend = BackendJWT
	}
	c.Issuer = strings.TrimSpace(c.Issuer)
	c.AccessSecret = strings.TrimSpace(c.AccessSecret)
	c.RefreshSecret = strings.TrimSpace(c.RefreshSecret)
}

// Validate enforces distinct, well-formed secrets and sane lifetimes.
func (c Config) Validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("%w: issuer required", ErrConfig)
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return fmt.Errorf("%w: token ttl must be > 0", ErrConfig)
	}
	if c.AccessTTL >= c.RefreshTTL {
		return fmt.Errorf("%w: access ttl must be shorter than refresh ttl", ErrConfig)
	}
	if c.Leeway < 0 || c.Leeway > time.Minute {
		return fmt.Errorf("%w: leeway out of range [0..1m]", ErrConfig)
	}
	if c.AccessSecret == "" || c.RefreshSecret == "" {
		return fmt.Errorf("%w: access and refresh secrets required", ErrConfig)
	}
	if c.AccessSecret == c.RefreshSecret {
		return fmt.Errorf("%w: access and refresh secrets must differ", ErrConfig)
	}

	switch c.Backend {
	case BackendJWT:
		if len(c.AccessSecret) < MinSecretBytes || len(c.RefreshSecret) < MinSecretBytes {
			return fmt.Errorf("%w: jwt secrets must be >= %d bytes", ErrConfig, MinSecretBytes)
		}
	case BackendPaseto:
		for _, s := range []string{c.AccessSecret, c.RefreshSecret} {
			b, err := hex.DecodeString(s)
			if err != nil || len(b) != 32 {
				return fmt.Errorf("%w: paseto secrets must be 64 hex chars", ErrConfig)
			}
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrConfig, c.Backend)
	}
	return nil
}

func (c Config) ttl(k Kind) time.Duration {
	if k == Refresh {
		return c.RefreshTTL
	}
	return c.AccessTTL
}
