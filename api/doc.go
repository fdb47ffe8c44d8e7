// Package api exposes the authentication engine over HTTP with chi.
//
// Routes:
//
//	POST /api/auth/login    {username, password} -> access token, SESSION and refresh_token cookies
//	POST /api/auth/refresh  cookies, or {accessToken, refreshToken} -> rotated token pair
//	POST /api/auth/logout   always 200, clears both cookies
//	GET  /api/auth/me       principal, profile and session details
//	GET  /health
//	GET  /metrics           when Options.Metrics is set; requires a valid access token
//
// Every response uses the {success, message, data} envelope from package middleware.
// Refresh failures are reported as a generic 401 regardless of cause.
package api
