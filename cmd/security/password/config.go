package password

import (
	"fmt"
	"runtime"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ilyakaznacheev/cleanenv"
	"golang.org/x/crypto/bcrypt"
)

// Algorithm names the scheme used for new digests.
// Verification always follows the digest prefix, whatever is configured here.
type Algorithm string

const (
	AlgorithmArgon2id Algorithm = "argon2id"
	AlgorithmBcrypt   Algorithm = "bcrypt"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey. Parallelism 0 means CPU-aware.
type Argon2idParams struct {
	MemoryKiB   uint32 `yaml:"memory_kib" env:"VOIR_ARGON2_MEMORY_KIB" env-default:"65536"`
	Iterations  uint32 `yaml:"iterations" env:"VOIR_ARGON2_ITERATIONS" env-default:"3"`
	Parallelism uint8  `yaml:"parallelism" env:"VOIR_ARGON2_PARALLELISM"`
	SaltLength  uint32 `yaml:"salt_len" env:"VOIR_ARGON2_SALT_LEN" env-default:"16"`
	KeyLength   uint32 `yaml:"key_len" env:"VOIR_ARGON2_KEY_LEN" env-default:"32"`
}

// Policy controls which plaintexts Hash accepts.
type Policy struct {
	MinLength      int  `yaml:"min_len" env:"VOIR_PASSWORD_MIN_LEN" env-default:"6"`
	MaxLength      int  `yaml:"max_len" env:"VOIR_PASSWORD_MAX_LEN" env-default:"128"`
	RejectVeryWeak bool `yaml:"reject_very_weak" env:"VOIR_PASSWORD_REJECT_VERY_WEAK"`
}

// Config is the single configuration surface for this package.
type Config struct {
	Algorithm  Algorithm      `yaml:"algorithm" env:"VOIR_PASSWORD_ALGORITHM" env-default:"argon2id"`
	Params     Argon2idParams `yaml:"argon2"`
	BcryptCost int            `yaml:"bcrypt_cost" env:"VOIR_BCRYPT_COST" env-default:"12"`
	// Workers bounds concurrent hash/verify calls. 0 means runtime.NumCPU().
	Workers int    `yaml:"workers" env:"VOIR_PASSWORD_WORKERS"`
	Policy  Policy `yaml:"policy"`
}

// DefaultConfig returns the baseline used when nothing is configured.
func DefaultConfig() Config {
	cfg := Config{
		Algorithm: AlgorithmArgon2id,
		Params: Argon2idParams{
			MemoryKiB:  64 * 1024,
			Iterations: 3,
			SaltLength: 16,
			KeyLength:  32,
		},
		BcryptCost: 12,
		Policy: Policy{
			MinLength: 6,
			MaxLength: 128,
		},
	}
	return cfg.withDefaults()
}

// FromEnv loads Config from VOIR_PASSWORD_*, VOIR_ARGON2_* and VOIR_BCRYPT_COST.
func FromEnv() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Normalize fills CPU-derived defaults and lower-cases the algorithm name.
func (c *Config) Normalize() { *c = c.withDefaults() }

// withDefaults fills values that cannot be expressed as static env defaults.
func (c Config) withDefaults() Config {
	if c.Params.Parallelism == 0 {
		// Clamp to [1..4] to keep container resource usage predictable.
		threads := runtime.NumCPU()
		if threads < 1 {
			threads = 1
		}
		if threads > 4 {
			threads = 4
		}
		c.Params.Parallelism = uint8(threads) // #nosec G115 -- clamped above.
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.Algorithm == "" {
		c.Algorithm = AlgorithmArgon2id
	}
	c.Algorithm = Algorithm(strings.ToLower(strings.TrimSpace(string(c.Algorithm))))
	return c
}

// Validate checks cost parameters and policy bounds.
func (c Config) Validate() error {
	switch c.Algorithm {
	case AlgorithmArgon2id, AlgorithmBcrypt:
	default:
		return fmt.Errorf("%w: unknown algorithm %q", ErrConfig, c.Algorithm)
	}

	checks := []struct {
		name     string
		v, lo, h uint64
	}{
		{"VOIR_ARGON2_MEMORY_KIB", uint64(c.Params.MemoryKiB), 8 * 1024, 1024 * 1024},
		{"VOIR_ARGON2_ITERATIONS", uint64(c.Params.Iterations), 1, 20},
		{"VOIR_ARGON2_PARALLELISM", uint64(c.Params.Parallelism), 1, 64},
		{"VOIR_ARGON2_SALT_LEN", uint64(c.Params.SaltLength), 8, 64},
		{"VOIR_ARGON2_KEY_LEN", uint64(c.Params.KeyLength), 16, 64},
		{"VOIR_BCRYPT_COST", uint64(max(c.BcryptCost, 0)), uint64(bcrypt.MinCost), uint64(bcrypt.MaxCost)},
		{"VOIR_PASSWORD_MIN_LEN", uint64(max(c.Policy.MinLength, 0)), 1, 1024},
		{"VOIR_PASSWORD_MAX_LEN", uint64(max(c.Policy.MaxLength, 0)), 1, 4096},
	}
	for _, ch := range checks {
		if ch.v < ch.lo || ch.v > ch.h {
			return fmt.Errorf("%w: %s out of range [%d..%d]", ErrConfig, ch.name, ch.lo, ch.h)
		}
	}

	if c.Policy.MinLength > c.Policy.MaxLength {
		return fmt.Errorf(
			"%w: min_len(%d) > max_len(%d)",
			ErrConfig,
			c.Policy.MinLength,
			c.Policy.MaxLength,
		)
	}
	return nil
}

// Check applies the password policy. It counts runes, not bytes.
func (c Config) Check(plaintext string) error {
	n := utf8.RuneCountInString(plaintext)
	if n < c.Policy.MinLength {
		return ErrPasswordTooShort
	}
	if n > c.Policy.MaxLength {
		return ErrPasswordTooLong
	}
	// bcrypt silently ignores input beyond 72 bytes.
	if c.Algorithm == AlgorithmBcrypt && len(plaintext) > 72 {
		return ErrPasswordTooLong
	}
	if c.Policy.RejectVeryWeak && looksVeryWeak(plaintext) {
		return ErrWeakPassword
	}
	return nil
}

// looksVeryWeak is a minimal pattern check, not a strength estimator.
func looksVeryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}

	first, _ := utf8.DecodeRuneInString(s)
	if strings.Trim(s, string(first)) == "" {
		return true
	}

	if strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) < 0 && utf8.RuneCountInString(s) < 12 {
		return true
	}

	switch strings.ToLower(s) {
	case "password", "password123", "123456", "123456789", "qwerty", "qwerty123", "11111111":
		return true
	}
	return false
}
