// Package tokenauth provides stateless JWT access tokens paired with rotating,
// revocable refresh tokens held in Redis.
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// tokenauth is the public surface. It exposes [Engine], [Builder], [Config], the tagged
// result types ([LoginResult], [RefreshResult], [VerifyResult]) and [Principal]. Flow
// orchestration, refresh-handle encoding and the login throttle live under internal/.
// HTTP concerns live in the api and middleware packages.
//
// # What this package must NOT do
//
//   - Choose HTTP status codes. Failures are reported as a [FailureKind].
//   - Hold package-level mutable state. Configuration is passed to [Builder].
//   - Import any sub-package that re-imports tokenauth (no import cycles).
//
// # Performance contract
//
// Verify is the hot path. It performs no I/O. Login and Refresh each perform one
// Redis round trip against the session store, plus the throttle counters on login.
package tokenauth
