// Package jwt issues and verifies HMAC-signed access tokens carrying a username,
// a role list and a session id.
//
// # Claims
//
//	username  string
//	roles     []string
//	sid       string (session id minted at login)
//	iat, nbf, exp
//
// Verification is purely cryptographic and temporal. Failures are classified as
// [ErrTokenExpired], [ErrTokenInvalidSignature] or [ErrTokenMalformed].
//
// # What this package must NOT do
//
//   - Read or write the refresh-token store.
//   - Decide HTTP status codes.
package jwt
