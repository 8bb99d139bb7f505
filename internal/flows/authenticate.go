package flows

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/trustplane/session"
	"github.com/MrEthical07/trustplane/token"
)

// AuthenticateFailureKind classifies access token validation failures.
type AuthenticateFailureKind int

const (
	AuthenticateFailureNone AuthenticateFailureKind = iota
	AuthenticateFailureMissing
	AuthenticateFailureExpired
	AuthenticateFailureInvalid
	AuthenticateFailureSession
	AuthenticateFailureStore
)

// AuthenticateResult carries verified claims or the failure.
type AuthenticateResult struct {
	Failure AuthenticateFailureKind
	Err     error
	Claims  *token.Claims
	Touched bool
}

type TokenValidator interface {
	Validate(ctx context.Context, tok string, expected token.Type) (*token.Claims, error)
}

type SessionToucher interface {
	Touch(ctx context.Context, sessionID string) (bool, error)
}

// AuthenticateDeps captures authentication dependencies.
type AuthenticateDeps struct {
	Tokens       TokenValidator
	Sessions     SessionToucher
	TouchTimeout time.Duration
	Warn         func(string, ...any)
}

// RunAuthenticate validates an access token and records session activity.
// The activity update is best effort: its failure never fails the request.
func RunAuthenticate(ctx context.Context, accessToken string, deps AuthenticateDeps) AuthenticateResult {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return AuthenticateResult{Failure: AuthenticateFailureMissing}
	}

	claims, err := deps.Tokens.Validate(ctx, accessToken, token.TypeAccess)
	if err != nil {
		return AuthenticateResult{Failure: classifyTokenError(err), Err: err}
	}

	res := AuthenticateResult{Claims: claims}
	if deps.Sessions != nil {
		touchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deps.TouchTimeout)
		touched, err := deps.Sessions.Touch(touchCtx, claims.SessionID)
		cancel()
		if err != nil && deps.Warn != nil {
			deps.Warn("trustplane: session touch failed", "session_id", claims.SessionID, "error", err)
		}
		res.Touched = touched
	}
	return res
}

func classifyTokenError(err error) AuthenticateFailureKind {
	switch {
	case errors.Is(err, token.ErrStoreUnavailable):
		return AuthenticateFailureStore
	case errors.Is(err, session.ErrNotFound):
		return AuthenticateFailureSession
	case errors.Is(err, token.ErrTokenExpired):
		return AuthenticateFailureExpired
	default:
		return AuthenticateFailureInvalid
	}
}
