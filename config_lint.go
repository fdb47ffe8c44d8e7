package tokenauth

import (
	"fmt"
	"strings"
	"time"
)

// LintSeverity ranks a [LintWarning].
type LintSeverity int

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintInfo:
		return "INFO"
	case LintWarn:
		return "WARN"
	case LintHigh:
		return "HIGH"
	default:
		return fmt.Sprintf("LintSeverity(%d)", int(s))
	}
}

// LintWarning is a configuration that validates but is likely a mistake.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintResult is the ordered list of warnings produced by [Config.Lint].
type LintResult []LintWarning

// Codes returns the warning codes in order.
func (r LintResult) Codes() []string {
	out := make([]string, 0, len(r))
	for _, w := range r {
		out = append(out, w.Code)
	}
	return out
}

// BySeverity returns warnings at or above min.
func (r LintResult) BySeverity(min LintSeverity) LintResult {
	var out LintResult
	for _, w := range r {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

// AsError returns an error listing every warning at or above min, or nil.
func (r LintResult) AsError(min LintSeverity) error {
	hits := r.BySeverity(min)
	if len(hits) == 0 {
		return nil
	}
	parts := make([]string, 0, len(hits))
	for _, w := range hits {
		parts = append(parts, w.Code+": "+w.Message)
	}
	return fmt.Errorf("config lint (%s): %s", min, strings.Join(parts, "; "))
}

// Lint reports settings that pass Validate but weaken the deployment.
// Call it after Validate; it never fails on its own.
func (c *Config) Lint() LintResult {
	var ws LintResult
	add := func(code string, sev LintSeverity, format string, args ...any) {
		ws = append(ws, LintWarning{Code: code, Severity: sev, Message: fmt.Sprintf(format, args...)})
	}

	if c.JWT.Leeway > time.Minute {
		add("leeway_large", LintWarn, "JWT leeway %s lets expired tokens through for over a minute", c.JWT.Leeway)
	}
	if strings.EqualFold(c.JWT.Algorithm, "HS256") {
		add("signing_hs256", LintInfo, "HS256 is accepted; HS512 is the default")
	}
	if c.Refresh.TTL > 7*24*time.Hour {
		add("refresh_ttl_long", LintInfo, "refresh TTL %s exceeds one week", c.Refresh.TTL)
	}
	if !c.Refresh.RevokeOnReuse {
		add("reuse_revocation_disabled", LintInfo, "a replayed refresh token is rejected but does not end the session")
	}

	if !c.RateLimit.Enabled {
		add("rate_limits_disabled", LintWarn, "login throttle is disabled")
	} else if !c.RateLimit.EnableIPThrottle {
		add("ip_throttle_disabled", LintInfo, "login throttle counts per username only")
	}

	if c.Cookie.RefreshMaxAge < c.Refresh.TTL {
		add("refresh_cookie_shorter_than_ttl", LintWarn,
			"refresh cookie max-age %s is shorter than the store TTL %s", c.Cookie.RefreshMaxAge, c.Refresh.TTL)
	}
	if c.Cookie.SessionMaxAge < c.Cookie.RefreshMaxAge {
		add("session_cookie_shorter_than_refresh", LintInfo,
			"session cookie expires after %s; refresh after that needs the body form", c.Cookie.SessionMaxAge)
	}
	if !c.SecureCookies() {
		add("insecure_cookies", LintWarn, "profile %q sends cookies without the Secure attribute", c.Profile)
	}

	for _, p := range c.PermittedPaths {
		if p == "/**" || p == "/" {
			add("permit_all", LintHigh, "permitted path %q bypasses token verification for every route", p)
		}
	}

	return ws
}
