package authapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// ErrConfig is returned for invalid API configuration.
var ErrConfig = errors.New("invalid auth api config")

// Config controls auth API behavior and security defaults.
type Config struct {
	TrustProxy   bool  `yaml:"trust_proxy" env:"VOIR_API_TRUST_PROXY"`
	MaxBodyBytes int64 `yaml:"max_body_bytes" env:"VOIR_API_MAX_BODY_BYTES" env-default:"65536"`

	LoginIPMax    int           `yaml:"login_ip_max" env:"VOIR_API_LOGIN_IP_MAX" env-default:"20"`
	LoginIPWindow time.Duration `yaml:"login_ip_window" env:"VOIR_API_LOGIN_IP_WINDOW" env-default:"5m"`

	RegistrationEnabled bool `yaml:"registration_enabled" env:"VOIR_API_REGISTRATION_ENABLED" env-default:"true"`

	AccessCookieName  string `yaml:"access_cookie_name" env:"VOIR_API_ACCESS_COOKIE_NAME" env-default:"voir_access"`
	RefreshCookieName string `yaml:"refresh_cookie_name" env:"VOIR_API_REFRESH_COOKIE_NAME" env-default:"voir_refresh"`
	CookiePath        string `yaml:"cookie_path" env:"VOIR_API_COOKIE_PATH" env-default:"/"`
	CookieDomain      string `yaml:"cookie_domain" env:"VOIR_API_COOKIE_DOMAIN"`
	CookieSameSiteRaw string `yaml:"cookie_samesite" env:"VOIR_API_COOKIE_SAMESITE" env-default:"lax"`

	// CookieSameSite is derived from CookieSameSiteRaw by Normalize.
	CookieSameSite http.SameSite `yaml:"-"`
}

// DefaultConfig returns the same values LoadConfigFromEnv yields with an empty environment.
func DefaultConfig() Config {
	cfg := Config{
		MaxBodyBytes:        64 << 10,
		LoginIPMax:          20,
		LoginIPWindow:       5 * time.Minute,
		RegistrationEnabled: true,
		AccessCookieName:    "voir_access",
		RefreshCookieName:   "voir_refresh",
		CookiePath:          "/",
		CookieSameSiteRaw:   "lax",
	}
	cfg.Normalize()
	return cfg
}

// LoadConfigFromEnv loads VOIR_API_* variables.
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

// Normalize trims names and resolves SameSite.
func (c *Config) Normalize() {
	c.AccessCookieName = strings.TrimSpace(c.AccessCookieName)
	c.RefreshCookieName = strings.TrimSpace(c.RefreshCookieName)
	c.CookiePath = strings.TrimSpace(c.CookiePath)
	if c.CookiePath == "" {
		c.CookiePath = "/"
	}
	c.CookieDomain = strings.TrimSpace(c.CookieDomain)
	c.CookieSameSite = parseSameSite(c.CookieSameSiteRaw)
}

// Validate rejects configs the handler cannot serve safely.
func (c Config) Validate() error {
	if c.MaxBodyBytes < 1024 || c.MaxBodyBytes > 1<<20 {
		return fmt.Errorf("%w: max body bytes out of range [1KiB..1MiB]", ErrConfig)
	}
	if c.LoginIPMax < 0 {
		return fmt.Errorf("%w: login ip max must be >= 0", ErrConfig)
	}
	if c.LoginIPMax > 0 && c.LoginIPWindow <= 0 {
		return fmt.Errorf("%w: login ip window must be > 0", ErrConfig)
	}
	if c.AccessCookieName == "" || c.RefreshCookieName == "" {
		return fmt.Errorf("%w: cookie names required", ErrConfig)
	}
	if c.AccessCookieName == c.RefreshCookieName {
		return fmt.Errorf("%w: access and refresh cookie names must differ", ErrConfig)
	}
	return nil
}

func parseSameSite(v string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "default":
		return http.SameSiteDefaultMode
	default:
		return http.SameSiteLaxMode
	}
}
