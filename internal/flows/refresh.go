package flows

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/trustplane/session"
	"github.com/MrEthical07/trustplane/token"
)

// RefreshFailureKind classifies rotation failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureMissing
	RefreshFailureRateLimited
	RefreshFailureReuse
	RefreshFailureExpired
	RefreshFailureInvalid
	RefreshFailureSessionNotFound
	RefreshFailureStore
)

// RefreshResult carries the rotated pair or the failure.
type RefreshResult struct {
	Failure RefreshFailureKind
	Err     error
	Pair    token.Pair
}

type PairRotator interface {
	Rotate(ctx context.Context, refreshToken string) (token.Pair, error)
}

// RefreshDeps captures refresh dependencies.
type RefreshDeps struct {
	Tokens PairRotator
}

// RunRefresh exchanges a refresh token for a new pair.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return RefreshResult{Failure: RefreshFailureMissing}
	}

	pair, err := deps.Tokens.Rotate(ctx, refreshToken)
	if err != nil {
		return RefreshResult{Failure: classifyRefreshError(err), Err: err}
	}
	return RefreshResult{Pair: pair}
}

func classifyRefreshError(err error) RefreshFailureKind {
	switch {
	case errors.Is(err, token.ErrRefreshRateLimited):
		return RefreshFailureRateLimited
	case errors.Is(err, token.ErrStoreUnavailable):
		return RefreshFailureStore
	case errors.Is(err, token.ErrRefreshReused):
		return RefreshFailureReuse
	case errors.Is(err, session.ErrNotFound):
		return RefreshFailureSessionNotFound
	case errors.Is(err, token.ErrTokenExpired):
		return RefreshFailureExpired
	default:
		return RefreshFailureInvalid
	}
}
