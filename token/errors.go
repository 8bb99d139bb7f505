package token

import "errors"

var (
	// ErrTokenInvalid reports a token that failed signature, format or type checks.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired reports a well-formed token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrRotationDenied is joined into every Rotate failure.
	ErrRotationDenied = errors.New("refresh rotation denied")
	// ErrRefreshRateLimited reports a refresh hash inside its cooldown.
	ErrRefreshRateLimited = errors.New("refresh rate limited")
	// ErrRefreshReused reports a refresh token that was already rotated.
	ErrRefreshReused = errors.New("refresh token reuse detected")
	// ErrStoreUnavailable wraps Redis failures and cancellation.
	ErrStoreUnavailable = errors.New("token store unavailable")
)
