package trustplane

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/MrEthical07/trustplane/internal/limiters"
	"github.com/MrEthical07/trustplane/session"
	"github.com/MrEthical07/trustplane/token"
)

func TestHTTPStatusAndErrorCode(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"nil", nil, http.StatusOK, ""},
		{"rate limited", ErrRateLimitExceeded, http.StatusTooManyRequests, "rate_limit_exceeded"},
		{"refresh throttled", errors.Join(token.ErrRotationDenied, token.ErrRefreshRateLimited), http.StatusTooManyRequests, "refresh_rate_limited"},
		{"degraded", ErrDegradedMode, http.StatusServiceUnavailable, "service_degraded"},
		{"canary", ErrCanaryExcluded, http.StatusServiceUnavailable, "canary_excluded"},
		{"unauthenticated", ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
		{"expired", fmt.Errorf("%w: exp", token.ErrTokenExpired), http.StatusUnauthorized, "token_expired"},
		{"invalid", errors.Join(token.ErrRotationDenied, token.ErrTokenInvalid), http.StatusUnauthorized, "token_invalid"},
		{"reused", errors.Join(token.ErrRotationDenied, token.ErrRefreshReused), http.StatusUnauthorized, "refresh_reused"},
		{"session gone", session.ErrNotFound, http.StatusUnauthorized, "session_not_found"},
		{"token store", errors.Join(token.ErrRotationDenied, token.ErrStoreUnavailable), http.StatusInternalServerError, "internal_error"},
		{"session store", fmt.Errorf("%w: dial", session.ErrRedisUnavailable), http.StatusInternalServerError, "internal_error"},
		{"attempt store", limiters.ErrRefreshAttemptsUnavailable, http.StatusInternalServerError, "internal_error"},
		{"invalid identity", session.ErrInvalidIdentity, http.StatusBadRequest, "invalid_request"},
		{"invalid launch mode", ErrInvalidLaunchMode, http.StatusBadRequest, "invalid_request"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.status {
				t.Fatalf("status: expected %d, got %d", tt.status, got)
			}
			if got := ErrorCode(tt.err); got != tt.code {
				t.Fatalf("code: expected %q, got %q", tt.code, got)
			}
		})
	}
}
