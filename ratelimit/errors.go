package ratelimit

import "errors"

var (
	// ErrRateLimited reports a denied admission.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps counter store failures. Admit never returns it;
	// it is surfaced to the logger and observer on degraded decisions.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrInvalidPolicy is returned when a policy table entry cannot be used.
	ErrInvalidPolicy = errors.New("invalid rate limit policy")
)
