package app

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	authapi "voir/cmd/internal/auth/api"
	"voir/cmd/internal/auth/codec"
	"voir/cmd/internal/auth/session"
	"voir/cmd/internal/realtime"
	"voir/cmd/security/password"
)

// ErrConfig is returned for invalid runtime configuration.
var ErrConfig = errors.New("invalid config")

const (
	EnvDev  = "dev"
	EnvProd = "prod"

	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"

	LogFormatJSON   = "json"
	LogFormatPretty = "pretty"
)

// Config is the whole runtime configuration tree.
//
// It is read from VOIR_CONFIG_FILE (YAML) when set, with environment
// variables overriding file values.
type Config struct {
	Env string `yaml:"env" env:"VOIR_ENV" env-default:"dev"`

	HTTPAddr          string        `yaml:"http_addr" env:"VOIR_HTTP_ADDR" env-default:"0.0.0.0:8080"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"VOIR_HTTP_READ_HEADER_TIMEOUT" env-default:"5s"`
	ReadTimeout       time.Duration `yaml:"read_timeout" env:"VOIR_HTTP_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout      time.Duration `yaml:"write_timeout" env:"VOIR_HTTP_WRITE_TIMEOUT" env-default:"15s"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" env:"VOIR_HTTP_IDLE_TIMEOUT" env-default:"60s"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" env:"VOIR_HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes" env:"VOIR_HTTP_MAX_HEADER_BYTES" env-default:"1048576"`

	LogLevel  string `yaml:"log_level" env:"VOIR_LOG_LEVEL" env-default:"info"`
	LogFormat string `yaml:"log_format" env:"VOIR_LOG_FORMAT" env-default:"json"`
	LogColor  bool   `yaml:"log_color" env:"VOIR_LOG_COLOR" env-default:"true"`

	Store string `yaml:"store" env:"VOIR_STORE" env-default:"memory"`

	DatabaseURL string `yaml:"database_url" env:"VOIR_DATABASE_URL"`
	DBMaxConns  int32  `yaml:"db_max_conns" env:"VOIR_DB_MAX_CONNS" env-default:"10"`
	DBMinConns  int32  `yaml:"db_min_conns" env:"VOIR_DB_MIN_CONNS" env-default:"0"`
	DBMigrate   bool   `yaml:"db_migrate" env:"VOIR_DB_MIGRATE"`

	RedisAddr      string `yaml:"redis_addr" env:"VOIR_REDIS_ADDR" env-default:"127.0.0.1:6379"`
	RedisPassword  string `yaml:"redis_password" env:"VOIR_REDIS_PASSWORD"`
	RedisDB        int    `yaml:"redis_db" env:"VOIR_REDIS_DB" env-default:"0"`
	RedisKeyPrefix string `yaml:"redis_key_prefix" env:"VOIR_REDIS_KEY_PREFIX" env-default:"voir"`

	CORSAllowedOrigins   []string `yaml:"cors_allowed_origins" env:"VOIR_CORS_ALLOWED_ORIGINS" env-separator:","`
	CORSAllowCredentials bool     `yaml:"cors_allow_credentials" env:"VOIR_CORS_ALLOW_CREDENTIALS" env-default:"true"`
	CORSMaxAgeSeconds    int      `yaml:"cors_max_age_seconds" env:"VOIR_CORS_MAX_AGE_SECONDS" env-default:"600"`

	// /readyz returns 503 unless the configured store answers a ping.
	ReadinessRequireStore bool `yaml:"readiness_require_store" env:"VOIR_READINESS_REQUIRE_STORE"`

	Password password.Config `yaml:"password"`
	Tokens   codec.Config    `yaml:"tokens"`
	Session  session.Config  `yaml:"session"`
	API      authapi.Config  `yaml:"api"`
	Realtime realtime.Config `yaml:"realtime"`

	// EphemeralSecrets is set when dev token secrets were generated at startup.
	EphemeralSecrets bool `yaml:"-"`
}

// LoadConfig reads, normalizes and validates the configuration tree.
func LoadConfig() (Config, error) {
	var cfg Config

	var err error
	if path := strings.TrimSpace(os.Getenv("VOIR_CONFIG_FILE")); path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	cfg.Normalize()
	if cfg.Env == EnvDev {
		if err := cfg.fillDevSecrets(); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// fillDevSecrets generates token secrets that are missing, so a dev server
// starts without any setup. Tokens do not survive a restart.
func (c *Config) fillDevSecrets() error {
	for _, s := range []*string{&c.Tokens.AccessSecret, &c.Tokens.RefreshSecret} {
		if *s != "" {
			continue
		}
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			return fmt.Errorf("dev secrets: %w", err)
		}
		// 64 hex chars is valid for both codec backends.
		*s = hex.EncodeToString(b)
		c.EphemeralSecrets = true
	}
	return nil
}

// Normalize trims and lower-cases enum fields and normalizes sub-configs.
func (c *Config) Normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.RedisAddr = strings.TrimSpace(c.RedisAddr)

	origins := c.CORSAllowedOrigins[:0]
	for _, o := range c.CORSAllowedOrigins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			origins = append(origins, o)
		}
	}
	c.CORSAllowedOrigins = origins

	c.Password.Normalize()
	c.Tokens.Normalize()
	c.API.Normalize()
	c.Realtime.Normalize()
}

// Validate checks the runtime fields and every sub-config.
func (c Config) Validate() error {
	switch c.Env {
	case EnvDev, EnvProd:
	default:
		return fmt.Errorf("%w: unknown env %q", ErrConfig, c.Env)
	}
	switch c.LogFormat {
	case LogFormatJSON, LogFormatPretty:
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrConfig, c.LogFormat)
	}

	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: postgres store requires VOIR_DATABASE_URL", ErrConfig)
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("%w: redis store requires VOIR_REDIS_ADDR", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store %q", ErrConfig, c.Store)
	}
	if c.DBMaxConns < 0 || c.DBMinConns < 0 || (c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns) {
		return fmt.Errorf("%w: db pool bounds", ErrConfig)
	}
	if c.CORSMaxAgeSeconds < 0 {
		return fmt.Errorf("%w: cors max age must be >= 0", ErrConfig)
	}

	if err := c.Password.Validate(); err != nil {
		return err
	}
	if err := c.Tokens.Validate(); err != nil {
		return err
	}
	if err := c.Session.Validate(); err != nil {
		return err
	}
	if err := c.API.Validate(); err != nil {
		return err
	}
	return c.Realtime.Validate()
}
