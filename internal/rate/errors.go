package rate

import "errors"

var (
	// ErrRateLimited is returned when a login budget is exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps Redis failures from the limiter.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
