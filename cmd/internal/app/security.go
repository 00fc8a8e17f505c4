package app

import (
	"errors"
	"fmt"

	"voir/cmd/security/token"
)

// ErrSecurityPolicy is returned when a prod configuration is unsafe to start.
var ErrSecurityPolicy = errors.New("security policy")

// ValidateSecurityConfig enforces the production policy at startup.
// Dev configurations pass unchanged.
func ValidateSecurityConfig(cfg Config) error {
	if cfg.Env != EnvProd {
		return nil
	}

	if _, err := token.KeyFromString(cfg.Session.DigestKey, token.MinKeyBytes); err != nil {
		return fmt.Errorf("%w: VOIR_REFRESH_DIGEST_KEY: %v", ErrSecurityPolicy, err)
	}
	if cfg.Store == StoreMemory {
		return fmt.Errorf("%w: memory store is not allowed in prod", ErrSecurityPolicy)
	}
	if cfg.Realtime.DevInsecure {
		return fmt.Errorf("%w: VOIR_WS_DEV_INSECURE must be off in prod", ErrSecurityPolicy)
	}
	for _, o := range cfg.CORSAllowedOrigins {
		if o == "*" && cfg.CORSAllowCredentials {
			return fmt.Errorf("%w: wildcard CORS origin with credentials", ErrSecurityPolicy)
		}
	}
	return nil
}
