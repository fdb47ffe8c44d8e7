package internaldefs

import (
	"github.com/bigtreetc/tokenauth"
)

// CounterDef binds an engine counter to its exported name.
type CounterDef struct {
	ID   tokenauth.MetricID
	Name string
	Help string
}

// HistogramDef binds an engine histogram to its exported name.
type HistogramDef struct {
	ID   tokenauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in output order.
var CounterDefs = []CounterDef{
	{ID: tokenauth.MetricLoginSuccess, Name: "tokenauth_login_success_total", Help: "Logins that issued a token pair."},
	{ID: tokenauth.MetricLoginFailure, Name: "tokenauth_login_failure_total", Help: "Logins rejected for any reason."},
	{ID: tokenauth.MetricLoginRateLimited, Name: "tokenauth_login_rate_limited_total", Help: "Logins refused by the throttle."},
	{ID: tokenauth.MetricRefreshSuccess, Name: "tokenauth_refresh_success_total", Help: "Successful refresh token rotations."},
	{ID: tokenauth.MetricRefreshFailure, Name: "tokenauth_refresh_failure_total", Help: "Refresh requests rejected for any reason."},
	{ID: tokenauth.MetricRefreshMismatch, Name: "tokenauth_refresh_mismatch_total", Help: "Refresh tokens that were not the current value for their session."},
	{ID: tokenauth.MetricVerifySuccess, Name: "tokenauth_verify_success_total", Help: "Access tokens accepted."},
	{ID: tokenauth.MetricVerifyFailure, Name: "tokenauth_verify_failure_total", Help: "Access tokens rejected."},
	{ID: tokenauth.MetricSessionCreated, Name: "tokenauth_session_created_total", Help: "Sessions created at login."},
	{ID: tokenauth.MetricLogout, Name: "tokenauth_logout_total", Help: "Logouts that resolved a session."},
	{ID: tokenauth.MetricStoreError, Name: "tokenauth_store_error_total", Help: "Refresh store failures seen by a flow."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: tokenauth.MetricVerifyLatency, Name: "tokenauth_verify_latency_seconds", Help: "Access-token verification latency."},
}

// HistogramBounds are the upper bounds, in seconds, of the engine's latency
// buckets: 50µs, 100µs, 250µs, 500µs, 1ms, 5ms, 25ms.
var HistogramBounds = []string{
	"0.00005",
	"0.0001",
	"0.00025",
	"0.0005",
	"0.001",
	"0.005",
	"0.025",
	"+Inf",
}

// HistogramBoundSuffix renders HistogramBounds as instrument-name suffixes.
var HistogramBoundSuffix = []string{
	"50us",
	"100us",
	"250us",
	"500us",
	"1ms",
	"5ms",
	"25ms",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, zero-filling missing buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	copy(out[:], raw)
	return out
}

// CumulativeBuckets turns per-bucket counts into le-style running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i, v := range raw {
		running += v
		out[i] = running
	}
	return out
}
