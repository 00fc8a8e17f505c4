package realtime

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// ErrConfig is returned for invalid feed configuration.
var ErrConfig = errors.New("invalid realtime config")

// Config controls the session event feed.
type Config struct {
	// DevInsecure skips the origin checks of websocket.Accept. Dev only.
	DevInsecure    bool     `yaml:"dev_insecure" env:"VOIR_WS_DEV_INSECURE"`
	OriginRequired bool     `yaml:"origin_required" env:"VOIR_WS_ORIGIN_REQUIRED" env-default:"true"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"VOIR_WS_ALLOWED_ORIGINS" env-default:"http://localhost,http://127.0.0.1" env-separator:","`

	WriteTimeout  time.Duration `yaml:"write_timeout" env:"VOIR_WS_WRITE_TIMEOUT" env-default:"5s"`
	SendQueueSize int           `yaml:"send_queue" env:"VOIR_WS_SEND_QUEUE" env-default:"64"`

	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"VOIR_WS_HEARTBEAT_INTERVAL" env-default:"25s"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout" env:"VOIR_WS_HEARTBEAT_TIMEOUT" env-default:"5s"`

	RateEvents int           `yaml:"rate_events" env:"VOIR_WS_RATE_EVENTS" env-default:"30"`
	RateWindow time.Duration `yaml:"rate_window" env:"VOIR_WS_RATE_WINDOW" env-default:"10s"`
}

// DefaultConfig mirrors the env defaults.
func DefaultConfig() Config {
	return Config{
		OriginRequired:    true,
		AllowedOrigins:    []string{"http://localhost", "http://127.0.0.1"},
		WriteTimeout:      defaultWriteTimeout,
		SendQueueSize:     defaultSendQueueSize,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		RateEvents:        rateLimitEvents,
		RateWindow:        rateLimitWindow,
	}
}

// LoadConfigFromEnv reads VOIR_WS_* variables.
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

// Normalize trims the origin list and clamps the queue size.
func (c *Config) Normalize() {
	out := c.AllowedOrigins[:0]
	for _, o := range c.AllowedOrigins {
		if s := strings.TrimSpace(o); s != "" {
			out = append(out, s)
		}
	}
	c.AllowedOrigins = out
	if c.SendQueueSize < minSendQueueSize {
		c.SendQueueSize = minSendQueueSize
	}
}

// Validate rejects non-positive timings.
func (c Config) Validate() error {
	if c.WriteTimeout <= 0 || c.HeartbeatInterval <= 0 || c.HeartbeatTimeout <= 0 || c.RateWindow <= 0 {
		return fmt.Errorf("%w: timeouts and windows must be > 0", ErrConfig)
	}
	if c.HeartbeatTimeout >= c.HeartbeatInterval {
		return fmt.Errorf("%w: heartbeat timeout must be shorter than the interval", ErrConfig)
	}
	if c.RateEvents <= 0 {
		return fmt.Errorf("%w: rate events must be > 0", ErrConfig)
	}
	return nil
}
