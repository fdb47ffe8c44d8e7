// Package internal contains helpers private to tokenauth: session id minting and
// the opaque refresh handle encoding.
//
// Sub-packages:
//
//   - flows: dependency-injected login, refresh, logout and verify orchestration
//   - rate: Redis fixed-window login throttle
//   - app: server configuration and wiring
//   - logging: zerolog construction
package internal
