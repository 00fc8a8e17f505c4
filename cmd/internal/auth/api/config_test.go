package authapi

import (
	"errors"
	"net/http"
	"os"
	"testing"
	"time"
)

var apiEnv = []string{
	"VOIR_API_TRUST_PROXY",
	"VOIR_API_MAX_BODY_BYTES",
	"VOIR_API_LOGIN_IP_MAX",
	"VOIR_API_LOGIN_IP_WINDOW",
	"VOIR_API_REGISTRATION_ENABLED",
	"VOIR_API_ACCESS_COOKIE_NAME",
	"VOIR_API_REFRESH_COOKIE_NAME",
	"VOIR_API_COOKIE_PATH",
	"VOIR_API_COOKIE_DOMAIN",
	"VOIR_API_COOKIE_SAMESITE",
}

func clearAPIEnv(t *testing.T) {
	t.Helper()
	for _, k := range apiEnv {
		t.Setenv(k, "")
		_ = os.Unsetenv(k)
	}
}

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	clearAPIEnv(t)

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	def := DefaultConfig()
	if cfg != def {
		t.Fatalf("env defaults differ from DefaultConfig:\n got %+v\nwant %+v", cfg, def)
	}
	if cfg.CookieSameSite != http.SameSiteLaxMode || !cfg.RegistrationEnabled || cfg.TrustProxy {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadConfigFromEnv_Override(t *testing.T) {
	clearAPIEnv(t)
	t.Setenv("VOIR_API_TRUST_PROXY", "true")
	t.Setenv("VOIR_API_LOGIN_IP_MAX", "3")
	t.Setenv("VOIR_API_LOGIN_IP_WINDOW", "30s")
	t.Setenv("VOIR_API_REGISTRATION_ENABLED", "false")
	t.Setenv("VOIR_API_COOKIE_SAMESITE", " Strict ")
	t.Setenv("VOIR_API_COOKIE_DOMAIN", " example.com ")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if !cfg.TrustProxy || cfg.LoginIPMax != 3 || cfg.LoginIPWindow != 30*time.Second || cfg.RegistrationEnabled {
		t.Fatalf("override failed: %+v", cfg)
	}
	if cfg.CookieSameSite != http.SameSiteStrictMode || cfg.CookieDomain != "example.com" {
		t.Fatalf("cookie override failed: %+v", cfg)
	}
}

func TestLoadConfigFromEnv_Invalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"same cookie names", map[string]string{"VOIR_API_ACCESS_COOKIE_NAME": "tok", "VOIR_API_REFRESH_COOKIE_NAME": "tok"}},
		{"tiny body", map[string]string{"VOIR_API_MAX_BODY_BYTES": "10"}},
		{"negative ip max", map[string]string{"VOIR_API_LOGIN_IP_MAX": "-1"}},
		{"zero window", map[string]string{"VOIR_API_LOGIN_IP_WINDOW": "0s"}},
		{"bad duration", map[string]string{"VOIR_API_LOGIN_IP_WINDOW": "soon"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearAPIEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
				t.Fatalf("expected ErrConfig, got %v", err)
			}
		})
	}
}

func TestParseSameSite(t *testing.T) {
	tests := []struct {
		in   string
		want http.SameSite
	}{
		{in: "strict", want: http.SameSiteStrictMode},
		{in: "lax", want: http.SameSiteLaxMode},
		{in: "none", want: http.SameSiteNoneMode},
		{in: "default", want: http.SameSiteDefaultMode},
		{in: "unknown", want: http.SameSiteLaxMode},
	}

	for _, tc := range tests {
		got := parseSameSite(tc.in)
		if got != tc.want {
			t.Fatalf("parseSameSite(%q)=%v, want %v", tc.in, got, tc.want)
		}
	}
}
