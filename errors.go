package tokenauth

import "errors"

var (
	// ErrUnauthorized is the single error surfaced for every refresh and verification failure.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrBadCredentials is returned by providers for unknown users and wrong passwords.
	ErrBadCredentials = errors.New("invalid credentials")
	// ErrMalformedRequest is returned when a login or refresh request lacks required fields.
	ErrMalformedRequest = errors.New("malformed request")
	// ErrLoginRateLimited is returned when the login throttle refuses an attempt.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrStoreUnavailable is returned when the refresh-token store cannot be reached.
	ErrStoreUnavailable = errors.New("token store unavailable")
	// ErrEngineNotReady is returned by methods on a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrPermissionDenied is returned when a principal lacks a required authority.
	ErrPermissionDenied = errors.New("permission denied")
)
