package rate

import "errors"

var (
	// ErrRateLimited means the caller exhausted the current window's budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps Redis transport failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
