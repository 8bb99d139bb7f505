package trustplane

import (
	"errors"
	"net/http"

	"github.com/MrEthical07/trustplane/anomaly"
	"github.com/MrEthical07/trustplane/internal/limiters"
	"github.com/MrEthical07/trustplane/launch"
	"github.com/MrEthical07/trustplane/session"
	"github.com/MrEthical07/trustplane/token"
)

var (
	// ErrRateLimitExceeded is returned when a request exceeds its route budget.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrDegradedMode is returned when emergency mode sheds a request.
	ErrDegradedMode = errors.New("service temporarily degraded")
	// ErrCanaryExcluded is returned for requests outside the canary slice.
	ErrCanaryExcluded = errors.New("request excluded from canary")
	// ErrUnauthenticated is returned when no credential was presented.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrStoreUnavailable is returned when a backing store failed on a path
	// that must fail closed.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrEngineNotReady is returned by a nil or closed engine.
	ErrEngineNotReady = errors.New("engine not initialized")

	ErrTokenExpired       = token.ErrTokenExpired
	ErrTokenInvalid       = token.ErrTokenInvalid
	ErrRefreshRateLimited = token.ErrRefreshRateLimited
	ErrRotationDenied     = token.ErrRotationDenied
	ErrRefreshReused      = token.ErrRefreshReused
	ErrSessionNotFound    = session.ErrNotFound
	ErrInvalidLaunchMode  = launch.ErrInvalidMode
)

// HTTPStatus maps an engine error to the response status the HTTP layer
// sends. Unknown errors map to 500.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrRateLimitExceeded), errors.Is(err, ErrRefreshRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrDegradedMode), errors.Is(err, ErrCanaryExcluded):
		return http.StatusServiceUnavailable
	case isStoreError(err):
		return http.StatusInternalServerError
	case errors.Is(err, ErrUnauthenticated),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrRotationDenied),
		errors.Is(err, ErrSessionNotFound):
		return http.StatusUnauthorized
	case isRequestError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ErrorCode returns the stable machine-readable code for err, used as the
// "error" field of JSON error bodies.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimitExceeded):
		return "rate_limit_exceeded"
	case errors.Is(err, ErrRefreshRateLimited):
		return "refresh_rate_limited"
	case errors.Is(err, ErrDegradedMode):
		return "service_degraded"
	case errors.Is(err, ErrCanaryExcluded):
		return "canary_excluded"
	case isStoreError(err):
		return "internal_error"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrRefreshReused):
		return "refresh_reused"
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrTokenInvalid):
		return "token_invalid"
	case errors.Is(err, ErrRotationDenied):
		return "rotation_denied"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case isRequestError(err):
		return "invalid_request"
	default:
		return "internal_error"
	}
}

func isRequestError(err error) bool {
	return errors.Is(err, ErrInvalidLaunchMode) ||
		errors.Is(err, session.ErrInvalidIdentity) ||
		errors.Is(err, anomaly.ErrInvalidWindow)
}

func isStoreError(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, token.ErrStoreUnavailable) ||
		errors.Is(err, session.ErrRedisUnavailable) ||
		errors.Is(err, limiters.ErrRefreshAttemptsUnavailable) ||
		errors.Is(err, launch.ErrSyncUnavailable) ||
		errors.Is(err, ErrEngineNotReady)
}
