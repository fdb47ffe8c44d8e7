// Package middleware holds the net/http middleware that sits in front of
// every API route.
//
// # Chain
//
// Middleware is composed from an explicit ordered list of [Named] steps with
// [Chain]; the first step is the outermost. The api package builds the default
// list: request_id, request_log, recover, body_limit, verify_access_token,
// require_authenticated.
//
// # Authentication
//
//   - [Verify] checks the bearer token unless the path is in the [PermitList].
//     A missing header means anonymous; a bad token ends the request with 401.
//   - [RequireAuthenticated] rejects anonymous requests on non-permitted paths.
//   - [RequireAuthority] guards a single route: 401 when anonymous, 403 when
//     the principal lacks every listed authority.
//
// Verification is delegated to the Engine. This package never parses tokens
// or talks to Redis itself.
package middleware
