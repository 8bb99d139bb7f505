package flows

import (
	"context"

	"github.com/MrEthical07/trustplane/session"
	"github.com/MrEthical07/trustplane/token"
)

// LoginFailureKind classifies login failures for root-level mapping.
type LoginFailureKind int

const (
	LoginFailureNone LoginFailureKind = iota
	LoginFailureSession
	LoginFailureIssue
)

// LoginResult carries the new session and its tokens, or the failure.
type LoginResult struct {
	Failure LoginFailureKind
	Err     error
	Session *session.Record
	Pair    token.Pair
}

type LoginSessionStore interface {
	Create(ctx context.Context, identityID string, meta session.Metadata) (*session.Record, error)
	Terminate(ctx context.Context, sessionID, reason string) (bool, error)
}

type PairIssuer interface {
	IssuePair(ctx context.Context, identityID, sessionID string) (token.Pair, error)
}

// LoginDeps captures login dependencies.
type LoginDeps struct {
	Sessions LoginSessionStore
	Tokens   PairIssuer
	Warn     func(string, ...any)
}

// RunLogin opens a session for an already authenticated identity and issues
// its first token pair. A session whose tokens could not be issued is
// terminated again.
func RunLogin(ctx context.Context, identityID string, meta session.Metadata, deps LoginDeps) LoginResult {
	rec, err := deps.Sessions.Create(ctx, identityID, meta)
	if err != nil {
		return LoginResult{Failure: LoginFailureSession, Err: err}
	}

	pair, err := deps.Tokens.IssuePair(ctx, identityID, rec.SessionID)
	if err != nil {
		if _, termErr := deps.Sessions.Terminate(context.WithoutCancel(ctx), rec.SessionID, session.ReasonRevoked); termErr != nil && deps.Warn != nil {
			deps.Warn("trustplane: terminating session after failed issue", "session_id", rec.SessionID, "error", termErr)
		}
		return LoginResult{Failure: LoginFailureIssue, Err: err, Session: rec}
	}

	return LoginResult{Session: rec, Pair: pair}
}
