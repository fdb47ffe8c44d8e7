// Package flows contains pure-function orchestrators for every Engine operation.
//
// Each flow function (RunLogin, RunRefresh, RunVerify, RunLogout) accepts a
// typed dependency struct and returns a tagged result. Failures are reported
// as a FailureKind, never as a panic or an HTTP status.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the session store, JWT manager, login
// throttle and metrics. They do NOT own any of these resources; ownership
// stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import tokenauth (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency interfaces.
package flows
