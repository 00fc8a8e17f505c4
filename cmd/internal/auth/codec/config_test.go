package codec

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	good := testConfig(BackendJWT)
	if err := good.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cases := []struct {
		name string
		mut  func(c *Config)
	}{
		{"missing access secret", func(c *Config) { c.AccessSecret = "" }},
		{"equal secrets", func(c *Config) { c.RefreshSecret = c.AccessSecret }},
		{"short jwt secret", func(c *Config) { c.AccessSecret = "short" }},
		{"access ttl not shorter", func(c *Config) { c.AccessTTL = c.RefreshTTL }},
		{"zero ttl", func(c *Config) { c.AccessTTL = 0 }},
		{"negative leeway", func(c *Config) { c.Leeway = -time.Second }},
		{"empty issuer", func(c *Config) { c.Issuer = "" }},
		{"unknown backend", func(c *Config) { c.Backend = "saml" }},
		{"paseto non-hex", func(c *Config) { c.Backend = BackendPaseto }},
		{"paseto short key", func(c *Config) {
			c.Backend = BackendPaseto
			c.AccessSecret = strings.Repeat("ab", 16)
			c.RefreshSecret = strings.Repeat("cd", 32)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(BackendJWT)
			tc.mut(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrConfig) {
				t.Fatalf("expected ErrConfig, got %v", err)
			}
			if _, err := New(cfg); !errors.Is(err, ErrConfig) {
				t.Fatalf("New: expected ErrConfig, got %v", err)
			}
		})
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("VOIR_TOKEN_BACKEND", " PASETO ")
	t.Setenv("VOIR_TOKEN_ISSUER", "voir-test")
	t.Setenv("VOIR_ACCESS_TOKEN_SECRET", strings.Repeat("a1", 32))
	t.Setenv("VOIR_REFRESH_TOKEN_SECRET", strings.Repeat("b2", 32))
	t.Setenv("VOIR_ACCESS_TOKEN_TTL", "5m")
	t.Setenv("VOIR_REFRESH_TOKEN_TTL", "72h")
	t.Setenv("VOIR_TOKEN_LEEWAY", "5s")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.Backend != BackendPaseto || cfg.Issuer != "voir-test" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.AccessTTL != 5*time.Minute || cfg.RefreshTTL != 72*time.Hour || cfg.Leeway != 5*time.Second {
		t.Fatalf("unexpected durations: %+v", cfg)
	}
}

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	t.Setenv("VOIR_ACCESS_TOKEN_SECRET", strings.Repeat("x", 40))
	t.Setenv("VOIR_REFRESH_TOKEN_SECRET", strings.Repeat("y", 40))

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	def := DefaultConfig()
	if cfg.Backend != def.Backend || cfg.AccessTTL != def.AccessTTL || cfg.RefreshTTL != def.RefreshTTL {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadConfigFromEnv_MissingSecrets(t *testing.T) {
	t.Setenv("VOIR_ACCESS_TOKEN_SECRET", "")
	t.Setenv("VOIR_REFRESH_TOKEN_SECRET", "")

	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}
