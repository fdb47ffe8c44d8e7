// Package rate implements the Redis-backed login throttle.
//
// # Window semantics
//
// Fixed-window counters: INCR plus EXPIRE on the first hit. Key layout under
// the configured prefix:
//   - login:u:<username>  failures per username
//   - login:ip:<ip>       failures per client IP (optional)
//
// A failed attempt increments; a successful login clears the username counter.
//
// # What this package must NOT do
//
//   - Decide HTTP status codes.
//   - Be imported outside the tokenauth module.
package rate
