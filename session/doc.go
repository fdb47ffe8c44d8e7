// Package session is the Redis-backed refresh-token store.
//
// # Layout
//
// Each login session is one Redis hash at <prefix><username>:<sessionId>
// (default prefix "token:") with fields:
//
//	h      hex SHA-256 of the current refresh secret
//	roles  JSON array of the authorities captured at login
//	iat    unix seconds at creation
//	rot    number of rotations so far
//
// The hash expires through the key TTL; nothing sweeps it.
//
// # Atomicity
//
// Create is a MULTI/EXEC pipeline. Rotate and CompareAndRotate are Lua scripts,
// so every mutation of a key is one round trip serialized by Redis.
//
// # What this package must NOT do
//
//   - Import tokenauth or jwt (no upward imports).
//   - Store plaintext refresh secrets.
//   - Retry failed Redis calls.
package session
