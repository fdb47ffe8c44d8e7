package tokenauth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bigtreetc/tokenauth/jwt"
)

// Config holds every setting of the authentication engine.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	Profile        string          `yaml:"profile"`
	JWT            JWTConfig       `yaml:"jwt"`
	Refresh        RefreshConfig   `yaml:"refresh"`
	Cookie         CookieConfig    `yaml:"cookie"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	Metrics        MetricsConfig   `yaml:"metrics"`
	PermittedPaths []string        `yaml:"permitted_paths"`
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures access-token issuance.
type JWTConfig struct {
	AccessTTL  time.Duration `yaml:"access_ttl"`
	Algorithm  string        `yaml:"algorithm"`
	SigningKey []byte        `yaml:"-"`
	Issuer     string        `yaml:"issuer"`
	Leeway     time.Duration `yaml:"leeway"`
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig configures the server-side refresh-token store.
type RefreshConfig struct {
	TTL         time.Duration `yaml:"ttl"`
	RedisPrefix string        `yaml:"redis_prefix"`
	// RevokeOnReuse deletes the session when a superseded refresh token is presented.
	RevokeOnReuse bool `yaml:"revoke_on_reuse"`
}

/*
====================================
COOKIE CONFIG
====================================
*/

// CookieConfig names the two login cookies and their lifetimes.
type CookieConfig struct {
	SessionName   string        `yaml:"session_name"`
	SessionMaxAge time.Duration `yaml:"session_max_age"`
	RefreshName   string        `yaml:"refresh_name"`
	RefreshMaxAge time.Duration `yaml:"refresh_max_age"`
	Path          string        `yaml:"path"`
	Domain        string        `yaml:"domain"`
	SameSite      http.SameSite `yaml:"-"`
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig configures the login throttle.
type RateLimitConfig struct {
	Enabled          bool          `yaml:"enabled"`
	EnableIPThrottle bool          `yaml:"enable_ip_throttle"`
	MaxLoginAttempts int           `yaml:"max_login_attempts"`
	LoginCooldown    time.Duration `yaml:"login_cooldown"`
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

const (
	// ProfileProduction is used when no profile is configured explicitly.
	ProfileProduction = "production"
	ProfileLocal      = "local"
	ProfileTest       = "test"
)

// DefaultConfig returns the baseline configuration. The signing key is left
// empty and must be supplied by the caller.
func DefaultConfig() Config {
	return Config{
		Profile: ProfileProduction,
		JWT: JWTConfig{
			AccessTTL: 15 * time.Minute,
			Algorithm: string(jwt.HS512),
		},
		Refresh: RefreshConfig{
			TTL:           2 * time.Hour,
			RedisPrefix:   "token:",
			RevokeOnReuse: false,
		},
		Cookie: CookieConfig{
			SessionName:   "SESSION",
			SessionMaxAge: time.Hour,
			RefreshName:   "refresh_token",
			RefreshMaxAge: 2 * time.Hour,
			Path:          "/",
			SameSite:      http.SameSiteStrictMode,
		},
		RateLimit: RateLimitConfig{
			Enabled:          true,
			EnableIPThrottle: false,
			MaxLoginAttempts: 5,
			LoginCooldown:    15 * time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
		PermittedPaths: []string{
			"/api/auth/login",
			"/api/auth/refresh",
			"/api/auth/logout",
			"/health",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.SigningKey = cloneBytes(cfg.JWT.SigningKey)
	out.PermittedPaths = append([]string(nil), cfg.PermittedPaths...)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// IsLocalOrTest reports whether profile disables production-only hardening
// such as the Secure cookie attribute. The empty profile counts as local.
func IsLocalOrTest(profile string) bool {
	switch strings.ToLower(strings.TrimSpace(profile)) {
	case "", ProfileLocal, ProfileTest:
		return true
	default:
		return false
	}
}

// SecureCookies reports whether cookies must carry the Secure attribute.
func (c *Config) SecureCookies() bool {
	return !IsLocalOrTest(c.Profile)
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks c for internal consistency. It does not mutate c.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	switch jwt.Algorithm(strings.ToUpper(c.JWT.Algorithm)) {
	case jwt.HS256, jwt.HS384, jwt.HS512:
	default:
		return errors.New("JWT Algorithm must be HS256, HS384 or HS512")
	}
	if len(c.JWT.SigningKey) < 32 {
		return errors.New("JWT SigningKey must be at least 32 bytes")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Refresh
	if c.Refresh.TTL <= 0 {
		return errors.New("Refresh TTL must be > 0")
	}
	if c.Refresh.TTL <= c.JWT.AccessTTL {
		return errors.New("Refresh TTL must be longer than JWT AccessTTL")
	}
	if c.Refresh.RedisPrefix == "" {
		return errors.New("Refresh RedisPrefix must not be empty")
	}

	// Cookies
	if c.Cookie.SessionName == "" || c.Cookie.RefreshName == "" {
		return errors.New("Cookie names must not be empty")
	}
	if c.Cookie.SessionName == c.Cookie.RefreshName {
		return errors.New("Cookie SessionName and RefreshName must differ")
	}
	if c.Cookie.SessionMaxAge <= 0 || c.Cookie.RefreshMaxAge <= 0 {
		return errors.New("Cookie max ages must be > 0")
	}
	if c.Cookie.Path == "" {
		return errors.New("Cookie Path must not be empty")
	}

	// Rate limit
	if c.RateLimit.Enabled {
		if c.RateLimit.MaxLoginAttempts <= 0 {
			return errors.New("RateLimit MaxLoginAttempts must be > 0")
		}
		if c.RateLimit.LoginCooldown <= 0 {
			return errors.New("RateLimit LoginCooldown must be > 0")
		}
	}

	for _, p := range c.PermittedPaths {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("permitted path %q must start with /", p)
		}
	}

	if !IsLocalOrTest(c.Profile) {
		if c.JWT.AccessTTL > 15*time.Minute {
			return errors.New("production profile requires JWT AccessTTL <= 15m")
		}
		if c.Refresh.TTL > 30*24*time.Hour {
			return errors.New("production profile requires Refresh TTL <= 30d")
		}
	}

	return nil
}
